// Package descriptor loads the YAML descriptors driving a compilation: the
// device topology with its calibration, the experiment-to-line signal map,
// and declarative experiment definitions.
package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/exp"
)

// SetupConfig is the top-level setup descriptor.
type SetupConfig struct {
	// Devices lists the physical units of the setup.
	Devices []DeviceSpec `yaml:"devices"`

	// Signals lists the logical signal lines.
	Signals []SignalSpec `yaml:"signals"`

	// Hub is the uid of the synchronization hub, omitted for single-device
	// setups.
	Hub string `yaml:"hub,omitempty"`

	// Calibration maps line paths to their calibration records.
	Calibration map[string]CalibrationSpec `yaml:"calibration,omitempty"`

	// SignalMap binds experiment signal names to line paths.
	SignalMap map[string]string `yaml:"signal_map,omitempty"`
}

// DeviceSpec declares one physical unit.
type DeviceSpec struct {
	UID   string `yaml:"uid"`
	Class string `yaml:"class"`
}

// SignalSpec declares one logical signal line of a device.
type SignalSpec struct {
	Path   string `yaml:"path"`
	Device string `yaml:"device"`
	Port   int    `yaml:"port"`
	Kind   string `yaml:"kind"` // iq, rf or acquire
}

// CalibrationSpec is the per-line calibration record.
type CalibrationSpec struct {
	Oscillator  *OscillatorSpec `yaml:"oscillator,omitempty"`
	LOFrequency *float64        `yaml:"lo_frequency,omitempty"`
	PortDelay   *float64        `yaml:"port_delay,omitempty"`
	Range       *float64        `yaml:"range,omitempty"`
	Threshold   *float64        `yaml:"threshold,omitempty"`
}

// OscillatorSpec declares the modulation oscillator of a line. Frequency may
// name a sweep parameter instead of a fixed value.
type OscillatorSpec struct {
	UID        string   `yaml:"uid"`
	Frequency  *float64 `yaml:"frequency,omitempty"`
	Parameter  string   `yaml:"parameter,omitempty"`
	Modulation string   `yaml:"modulation"` // software or hardware
}

// LoadSetup reads and parses a setup descriptor file.
func LoadSetup(path string) (*SetupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading setup %s: %w", path, err)
	}
	return ParseSetup(data, path)
}

// ParseSetup parses setup descriptor content from bytes. The path argument is
// used only for error messages.
func ParseSetup(data []byte, path string) (*SetupConfig, error) {
	var cfg SetupConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SetupConfig) validate(path string) error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("%s: no devices defined", path)
	}
	for _, d := range c.Devices {
		if d.UID == "" {
			return fmt.Errorf("%s: device with empty uid", path)
		}
		if _, ok := device.ClassCapabilities(device.Class(d.Class)); !ok {
			return fmt.Errorf("%s: device %s has unknown class %q", path, d.UID, d.Class)
		}
	}
	for _, s := range c.Signals {
		if s.Path == "" {
			return fmt.Errorf("%s: signal line with empty path", path)
		}
		switch device.SignalKind(s.Kind) {
		case device.KindIQ, device.KindRF, device.KindAcquire:
		default:
			return fmt.Errorf("%s: line %s has unknown kind %q", path, s.Path, s.Kind)
		}
	}
	for line, cal := range c.Calibration {
		osc := cal.Oscillator
		if osc == nil {
			continue
		}
		switch device.ModulationType(osc.Modulation) {
		case device.ModulationSoftware, device.ModulationHardware:
		default:
			return fmt.Errorf("%s: oscillator on %s has unknown modulation %q", path, line, osc.Modulation)
		}
		if osc.Frequency == nil && osc.Parameter == "" {
			return fmt.Errorf("%s: oscillator on %s needs a frequency or a parameter", path, line)
		}
	}
	return nil
}

// Setup converts the descriptor into the resolved topology.
func (c *SetupConfig) Setup() (*device.Setup, error) {
	setup := &device.Setup{
		Devices: make(map[string]*device.Device, len(c.Devices)),
		Signals: make(map[string]*device.LogicalSignal, len(c.Signals)),
		Hub:     c.Hub,
	}
	for _, d := range c.Devices {
		setup.Devices[d.UID] = &device.Device{UID: d.UID, Class: device.Class(d.Class)}
	}
	for _, s := range c.Signals {
		setup.Signals[s.Path] = &device.LogicalSignal{
			Path:   s.Path,
			Device: s.Device,
			Port:   s.Port,
			Kind:   device.SignalKind(s.Kind),
		}
	}
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	return setup, nil
}

// CalibrationTable converts the calibration section, binding swept oscillator
// frequencies against the given parameter set.
func (c *SetupConfig) CalibrationTable(params map[string]*exp.Parameter) (device.CalibrationTable, error) {
	table := make(device.CalibrationTable, len(c.Calibration))
	for line, spec := range c.Calibration {
		cal := &device.SignalCalibration{
			Threshold: spec.Threshold,
		}
		if spec.LOFrequency != nil {
			cal.LOFrequency = *spec.LOFrequency
		}
		if spec.PortDelay != nil {
			cal.PortDelay = *spec.PortDelay
		}
		if spec.Range != nil {
			cal.Range = *spec.Range
		}
		if osc := spec.Oscillator; osc != nil {
			freq := exp.Fixed(0)
			if osc.Parameter != "" {
				p, ok := params[osc.Parameter]
				if !ok {
					return nil, fmt.Errorf("oscillator on %s sweeps unknown parameter %q", line, osc.Parameter)
				}
				freq = exp.Swept(p)
			} else if osc.Frequency != nil {
				freq = exp.Fixed(*osc.Frequency)
			}
			cal.Oscillator = &device.Oscillator{
				UID:        osc.UID,
				Frequency:  freq,
				Modulation: device.ModulationType(osc.Modulation),
			}
		}
		table[line] = cal
	}
	return table, nil
}
