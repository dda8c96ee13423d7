package device

import "github.com/quantumctl/pulsec/internal/exp"

// ModulationType selects where a signal is modulated.
type ModulationType string

const (
	// ModulationSoftware bakes the oscillator into the uploaded samples.
	ModulationSoftware ModulationType = "software"

	// ModulationHardware uses a digital oscillator on the instrument.
	ModulationHardware ModulationType = "hardware"
)

// Oscillator describes the modulation applied on a physical channel. The
// frequency may be bound to a swept parameter.
type Oscillator struct {
	UID        string
	Frequency  exp.Value
	Modulation ModulationType
}

// SignalCalibration is the calibration record of one logical signal line.
// It is attached by the resolver and read-only during compilation.
type SignalCalibration struct {
	Oscillator *Oscillator

	// LOFrequency is the local oscillator frequency in Hz, zero when the
	// line has no LO stage.
	LOFrequency float64

	// PortDelay shifts everything played on this line by a fixed time.
	PortDelay float64

	// Range is the output/input range in volts.
	Range float64

	// Threshold is the state discrimination threshold, nil when the line
	// does not discriminate.
	Threshold *float64
}

// CalibrationTable maps logical signal line paths to calibration records.
type CalibrationTable map[string]*SignalCalibration
