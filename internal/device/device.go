// Package device models the physical side of an experiment: device classes
// with their capability records, logical signal lines, the setup topology and
// the per-line calibration. The compiler references these structures but
// never owns or mutates them.
package device

import (
	"fmt"
	"sort"

	"github.com/quantumctl/pulsec/internal/config"
)

// Class identifies a device class. Device-specific behavior is expressed
// entirely through the capability record looked up by class, not through
// per-class code paths.
type Class string

const (
	// ClassDriveAWG is an arbitrary waveform generator for qubit drive.
	ClassDriveAWG Class = "drive-awg"

	// ClassReadout is a combined readout generator/digitizer unit.
	ClassReadout Class = "readout"

	// ClassCombo couples a drive and a readout unit in one physical box,
	// enabling the local feedback path.
	ClassCombo Class = "combo"

	// ClassHub is the central synchronization hub distributing the common
	// trigger and the global feedback bus.
	ClassHub Class = "sync-hub"
)

// Capabilities is the per-class capability record consulted by the scheduler
// and the code generator.
type Capabilities struct {
	// SampleRateHz is the output sample rate.
	SampleRateHz float64

	// TicksPerSample is the reference-clock period of one sample.
	TicksPerSample int64

	// SampleGranularity is the waveform length quantum in samples.
	SampleGranularity int

	// MinWaveformSamples is the shortest playable waveform.
	MinWaveformSamples int

	// SupportsCommandTable enables indexed playback modifiers, so a swept
	// amplitude or phase reuses one uploaded waveform.
	SupportsCommandTable bool

	// SupportsRealTimeSweep enables per-iteration parameter updates inside
	// hardware loops.
	SupportsRealTimeSweep bool

	// SupportsNativeLoops enables hardware loop instructions; without it
	// loops are unrolled at generation time.
	SupportsNativeLoops bool

	// DiscriminationStates is the size of the state alphabet the unit can
	// discriminate into; zero for pure output devices.
	DiscriminationStates int

	// IsHub marks the synchronization hub.
	IsHub bool
}

// GridTicks is the playback granularity of the class in reference ticks.
func (c Capabilities) GridTicks() int64 {
	return int64(c.SampleGranularity) * c.TicksPerSample
}

var classTable = map[Class]Capabilities{
	ClassDriveAWG: {
		SampleRateHz:          2.4e9,
		TicksPerSample:        1500, // 3.6e12 / 2.4e9
		SampleGranularity:     16,
		MinWaveformSamples:    32,
		SupportsCommandTable:  true,
		SupportsRealTimeSweep: true,
		SupportsNativeLoops:   true,
	},
	ClassReadout: {
		SampleRateHz:          1.8e9,
		TicksPerSample:        2000,
		SampleGranularity:     8,
		MinWaveformSamples:    16,
		SupportsCommandTable:  false,
		SupportsRealTimeSweep: true,
		SupportsNativeLoops:   true,
		DiscriminationStates:  2,
	},
	ClassCombo: {
		SampleRateHz:          2.0e9,
		TicksPerSample:        1800,
		SampleGranularity:     16,
		MinWaveformSamples:    32,
		SupportsCommandTable:  true,
		SupportsRealTimeSweep: true,
		SupportsNativeLoops:   true,
		DiscriminationStates:  2,
	},
	ClassHub: {
		IsHub: true,
	},
}

// ClassCapabilities looks up the capability record for a class.
func ClassCapabilities(c Class) (Capabilities, bool) {
	caps, ok := classTable[c]
	return caps, ok
}

// Device is one physical instrument.
type Device struct {
	UID   string
	Class Class
}

// Capabilities returns the device's class capability record.
func (d *Device) Capabilities() Capabilities {
	caps, ok := classTable[d.Class]
	if !ok {
		return Capabilities{}
	}
	return caps
}

// SignalKind distinguishes output from acquisition lines.
type SignalKind string

const (
	KindIQ      SignalKind = "iq"
	KindRF      SignalKind = "rf"
	KindAcquire SignalKind = "acquire"
)

// LogicalSignal is a physical signal path at a specific instrument port,
// identified by a stable path string.
type LogicalSignal struct {
	Path   string
	Device string
	Port   int
	Kind   SignalKind
}

// Setup is the resolved device topology handed to the compiler.
type Setup struct {
	Devices map[string]*Device
	Signals map[string]*LogicalSignal // keyed by path

	// Hub is the uid of the synchronization hub, empty for a single
	// self-contained device.
	Hub string
}

// Validate checks internal consistency of the topology.
func (s *Setup) Validate() error {
	for path, sig := range s.Signals {
		if sig.Path != path {
			return fmt.Errorf("signal map key %q disagrees with path %q", path, sig.Path)
		}
		dev, ok := s.Devices[sig.Device]
		if !ok {
			return fmt.Errorf("signal %q references unknown device %q", path, sig.Device)
		}
		if _, ok := classTable[dev.Class]; !ok {
			return fmt.Errorf("device %q has unknown class %q", dev.UID, dev.Class)
		}
	}
	if s.Hub != "" {
		hub, ok := s.Devices[s.Hub]
		if !ok {
			return fmt.Errorf("hub %q is not part of the setup", s.Hub)
		}
		if !hub.Capabilities().IsHub {
			return fmt.Errorf("device %q is declared as hub but class %q is not a hub", s.Hub, hub.Class)
		}
	}
	return nil
}

// SystemGridTicks is the shared synchronization grid: the least common
// multiple of the playback grids of all non-hub devices.
func (s *Setup) SystemGridTicks() int64 {
	uids := make([]string, 0, len(s.Devices))
	for uid := range s.Devices {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	grid := int64(1)
	for _, uid := range uids {
		caps := s.Devices[uid].Capabilities()
		if caps.IsHub || caps.TicksPerSample == 0 {
			continue
		}
		grid = config.LCM(grid, caps.GridTicks())
	}
	return grid
}

// DeviceUIDs returns the sorted device identifiers; artifacts are emitted in
// this order to keep compilation deterministic.
func (s *Setup) DeviceUIDs() []string {
	uids := make([]string, 0, len(s.Devices))
	for uid := range s.Devices {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}
