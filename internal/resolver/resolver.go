// Package resolver binds abstract experiment signals to logical signal lines
// and attaches their calibration, producing the fully resolved view the
// scheduler operates on.
package resolver

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
)

// Signal is one resolved experiment signal: the physical line it maps to,
// the owning device and the active calibration record.
type Signal struct {
	Name   string
	Line   *device.LogicalSignal
	Device *device.Device
	Caps   device.Capabilities
	Cal    *device.SignalCalibration
}

// Resolved is the output of the resolution stage.
type Resolved struct {
	Experiment *exp.Experiment
	Setup      *device.Setup
	Signals    map[string]*Signal // keyed by experiment signal name

	// HWSweptOsc flags, per device uid, that at least one mapped signal
	// uses a hardware-modulated oscillator with a swept frequency. The
	// code generator switches that device to oscillator-select commands
	// instead of static modulation.
	HWSweptOsc map[string]bool
}

// SignalNames returns the resolved signal names in sorted order.
func (r *Resolved) SignalNames() []string {
	names := make([]string, 0, len(r.Signals))
	for n := range r.Signals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SystemGridTicks is the synchronization grid of this experiment: the least
// common multiple of the playback grids of the instruments its signals
// resolve to. Setup devices the experiment never touches do not coarsen the
// grid.
func (r *Resolved) SystemGridTicks() int64 {
	grid := int64(1)
	for _, name := range r.SignalNames() {
		caps := r.Signals[name].Caps
		if caps.IsHub || caps.TicksPerSample == 0 {
			continue
		}
		grid = config.LCM(grid, caps.GridTicks())
	}
	return grid
}

// DeviceOf returns the device uid an experiment signal lives on.
func (r *Resolved) DeviceOf(signal string) string {
	if s, ok := r.Signals[signal]; ok {
		return s.Device.UID
	}
	return ""
}

// Resolve maps every declared experiment signal through the signal map and
// attaches calibration. Signals declared but never mapped fail resolution
// even when unused, since an unmapped declaration is almost always a setup
// mistake.
func Resolve(e *exp.Experiment, setup *device.Setup, signalMap map[string]string, cal device.CalibrationTable) (*Resolved, diagnostics.List) {
	var diags diagnostics.List

	out := &Resolved{
		Experiment: e,
		Setup:      setup,
		Signals:    make(map[string]*Signal, len(e.Signals)),
		HWSweptOsc: make(map[string]bool),
	}

	for _, name := range e.Signals {
		path, ok := signalMap[name]
		if !ok {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrR101, name,
				"experiment signal %q has no entry in the signal map", name))
			continue
		}
		line, ok := setup.Signals[path]
		if !ok {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrR102, name,
				"signal %q maps to %q, which is not a logical signal line of the setup", name, path))
			continue
		}
		dev, ok := setup.Devices[line.Device]
		if !ok {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrR103, name,
				"line %q references unknown device %q", path, line.Device))
			continue
		}

		rs := &Signal{
			Name:   name,
			Line:   line,
			Device: dev,
			Caps:   dev.Capabilities(),
			Cal:    cal[path],
		}
		out.Signals[name] = rs

		if c := rs.Cal; c != nil && c.Oscillator != nil {
			if c.Oscillator.Modulation == device.ModulationHardware && c.Oscillator.Frequency.IsSwept() {
				out.HWSweptOsc[dev.UID] = true
			}
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return out, diags
}
