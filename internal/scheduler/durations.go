package scheduler

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
)

// iterCtx resolves swept values to the iteration indices of the enclosing
// sweeps. Frames are pushed innermost-last.
type iterCtx struct {
	frames []iterFrame
}

type iterFrame struct {
	params map[string]bool
	index  int
}

func (c *iterCtx) push(params []*exp.Parameter, index int) {
	set := make(map[string]bool, len(params))
	for _, p := range params {
		set[p.UID] = true
	}
	c.frames = append(c.frames, iterFrame{params: set, index: index})
}

func (c *iterCtx) pop() {
	c.frames = c.frames[:len(c.frames)-1]
}

// resolve evaluates a possibly swept value under the active iterations.
func (c *iterCtx) resolve(v exp.Value) (float64, error) {
	if v.Param == nil {
		return v.Fixed, nil
	}
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].params[v.Param.UID] {
			return v.At(c.frames[i].index)
		}
	}
	// Parameter not bound by any enclosing sweep: use its first value.
	return v.At(0)
}

// waveformTicks quantizes a playback length: at least the minimum waveform,
// rounded up to the sample granularity.
func waveformTicks(seconds float64, caps device.Capabilities) int64 {
	samples := int64(seconds*caps.SampleRateHz + 0.5)
	if samples < int64(caps.MinWaveformSamples) {
		samples = int64(caps.MinWaveformSamples)
	}
	samples = config.RoundUpToGrid(samples, int64(caps.SampleGranularity))
	return samples * caps.TicksPerSample
}

// delayTicks quantizes an idle time up to the playZero granularity.
func delayTicks(seconds float64, caps device.Capabilities) int64 {
	ticks := config.SecondsToTicks(seconds)
	return config.RoundUpToGrid(ticks, int64(caps.SampleGranularity)*caps.TicksPerSample)
}

// opDuration computes the scheduled duration of a leaf operation in ticks.
// Reserve durations are resolved by the enclosing section and return zero
// here.
func (s *state) opDuration(op exp.Operation, ictx *iterCtx) (int64, *diagnostics.Diagnostic) {
	sig, ok := s.res.Signals[op.Signal()]
	if !ok {
		return 0, diagnostics.NewError(diagnostics.ErrR101, op.NodeUID(),
			"operation references unresolved signal %q", op.Signal())
	}
	caps := sig.Caps

	switch o := op.(type) {
	case *exp.Play:
		length := o.Pulse.Length
		if o.Length != nil {
			v, err := ictx.resolve(*o.Length)
			if err != nil {
				return 0, diagnostics.NewError(diagnostics.ErrS006, o.UID, "%s", err.Error())
			}
			length = v
		}
		return waveformTicks(length, caps), nil
	case *exp.Delay:
		v, err := ictx.resolve(o.Time)
		if err != nil {
			return 0, diagnostics.NewError(diagnostics.ErrS006, o.UID, "%s", err.Error())
		}
		return delayTicks(v, caps), nil
	case *exp.Acquire:
		length := o.Length
		if o.Kernel != nil {
			length = o.Kernel.Length
		}
		return waveformTicks(length, caps), nil
	case *exp.Reserve:
		return 0, nil
	}
	return 0, diagnostics.NewError(diagnostics.ErrS006, op.NodeUID(), "unknown operation kind")
}

// sectionSignals collects every signal referenced beneath a section,
// including reserves and trigger outputs.
func sectionSignals(sec exp.SectionNode) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	exp.Walk(sec, func(n exp.Node) bool {
		if op, ok := n.(exp.Operation); ok {
			add(op.Signal())
		}
		if sn, ok := n.(exp.SectionNode); ok {
			for _, t := range sn.Base().Triggers {
				add(t.Signal)
			}
		}
		return true
	})
	return order
}

// sectionGrid is the timing grid a section must respect: the least common
// multiple of the playback grids of all participating devices, escalated to
// the system grid for nodes marked on-system-grid.
func (s *state) sectionGrid(sec exp.SectionNode, onSystemGrid bool) int64 {
	grid := int64(1)
	for _, name := range sectionSignals(sec) {
		if rs, ok := s.res.Signals[name]; ok {
			grid = config.LCM(grid, rs.Caps.GridTicks())
		}
	}
	if onSystemGrid {
		grid = config.LCM(grid, s.sysGrid)
	}
	return grid
}

// paramConsumers returns the uids of devices that consume a swept parameter,
// either through an operation or through a hardware oscillator frequency.
func (s *state) paramConsumers(sec exp.SectionNode, params []*exp.Parameter) []string {
	inSweep := make(map[string]bool, len(params))
	for _, p := range params {
		inSweep[p.UID] = true
	}
	devices := make(map[string]bool)

	exp.Walk(sec, func(n exp.Node) bool {
		op, ok := n.(exp.Operation)
		if !ok {
			return true
		}
		uses := false
		switch o := op.(type) {
		case *exp.Delay:
			uses = o.Time.Param != nil && inSweep[o.Time.Param.UID]
		case *exp.Play:
			if o.Length != nil && o.Length.Param != nil && inSweep[o.Length.Param.UID] {
				uses = true
			}
			if o.Amplitude != nil && o.Amplitude.Param != nil && inSweep[o.Amplitude.Param.UID] {
				uses = true
			}
		}
		if rs, ok := s.res.Signals[op.Signal()]; ok {
			if c := rs.Cal; c != nil && c.Oscillator != nil &&
				c.Oscillator.Frequency.Param != nil && inSweep[c.Oscillator.Frequency.Param.UID] {
				uses = true
			}
			if uses {
				devices[rs.Device.UID] = true
			}
		}
		return true
	})

	out := make([]string, 0, len(devices))
	for d := range devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
