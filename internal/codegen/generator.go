package codegen

import (
	"math"
	"sort"

	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/pulse"
	"github.com/quantumctl/pulsec/internal/resolver"
	"github.com/quantumctl/pulsec/internal/scheduler"
)

// Generate lowers a schedule into one Program per participating device.
// Devices are processed in sorted uid order and every table is built in a
// deterministic order, so repeated runs over the same schedule produce
// identical artifacts.
func Generate(sched *scheduler.Schedule) ([]*Program, diagnostics.List) {
	var diags diagnostics.List

	uids := participants(sched)
	progs := make([]*Program, 0, len(uids))
	for _, uid := range uids {
		g := newDevgen(sched, uid, &diags)
		g.run()
		progs = append(progs, g.prog)
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return progs, diags
}

// participants returns the devices that need a program: every device owning a
// resolved signal, plus the hub when a marker originates there.
func participants(sched *scheduler.Schedule) []string {
	seen := map[string]bool{}
	for _, sig := range sched.Resolved.Signals {
		seen[sig.Device.UID] = true
	}
	for _, m := range sched.Markers {
		if m.From != "" {
			seen[m.From] = true
		}
	}
	uids := make([]string, 0, len(seen))
	for uid := range seen {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

type devgen struct {
	sched *scheduler.Schedule
	res   *resolver.Resolved
	diags *diagnostics.List

	dev  string
	caps device.Capabilities
	prog *Program
	wt   *waveTable

	cursor int64 // absolute ticks covered by emitted code

	// env carries the active sweep parameter values while descending
	// through iteration nodes.
	env map[string]float64

	// ct maps play uids to command table groups inside a compressed sweep
	// body; nil outside.
	ct map[string]int

	// compressed counts enclosing hardware-loop sweep bodies. Inside one,
	// oscillator retunes are table-driven at the loop head instead of
	// immediate per iteration.
	compressed int
}

func newDevgen(sched *scheduler.Schedule, uid string, diags *diagnostics.List) *devgen {
	dev := sched.Resolved.Setup.Devices[uid]
	caps := dev.Capabilities()
	g := &devgen{
		sched: sched,
		res:   sched.Resolved,
		diags: diags,
		dev:   uid,
		caps:  caps,
		prog: &Program{
			Device:       uid,
			Class:        dev.Class,
			SampleRateHz: caps.SampleRateHz,
		},
		env: map[string]float64{},
	}
	g.wt = newWaveTable(g.prog)
	g.collectPortDelays()
	return g
}

func (g *devgen) run() {
	g.emitNode(g.sched.Root)
	if !g.caps.IsHub {
		g.waitTo(g.sched.Root.End)
	}
	g.prog.Code = append(g.prog.Code, byte(OpEnd))
}

func (g *devgen) errf(code diagnostics.Code, subject, format string, args ...any) {
	*g.diags = append(*g.diags, diagnostics.NewError(code, subject, format, args...))
}

// waitTo pads the instruction stream up to the absolute tick t. Operation
// starts are grid-quantized, so the gap is always a whole number of samples.
func (g *devgen) waitTo(t int64) {
	if t <= g.cursor {
		return
	}
	delta := t - g.cursor
	if g.caps.TicksPerSample == 0 {
		g.cursor = t
		return
	}
	if delta%g.caps.TicksPerSample != 0 {
		g.errf(diagnostics.ErrG301, g.dev,
			"device %s: idle span of %d ticks is not a whole number of samples", g.dev, delta)
		g.cursor = t
		return
	}
	g.prog.emit(OpWait, uint32(delta/g.caps.TicksPerSample))
	g.cursor = t
}

func (g *devgen) advance(t int64) {
	if t > g.cursor {
		g.cursor = t
	}
}

// streamReaches reports whether the single instruction stream of this device
// can still issue an operation starting at t. Operations on different lines
// of one device that the schedule lets coincide have no second sequencer to
// run on.
func (g *devgen) streamReaches(n *scheduler.Node) bool {
	if n.Start >= g.cursor {
		return true
	}
	g.errf(diagnostics.ErrG301, n.UID,
		"device %s: %q at tick %d starts before the instruction stream reaches it (stream at tick %d)",
		g.dev, n.UID, n.Start, g.cursor)
	return false
}

func (g *devgen) collectPortDelays() {
	names := g.res.SignalNames()
	for _, name := range names {
		sig := g.res.Signals[name]
		if sig.Device.UID != g.dev || sig.Cal == nil || sig.Cal.PortDelay == 0 {
			continue
		}
		g.prog.PortDelays = append(g.prog.PortDelays, PortDelayEntry{
			Signal: name,
			Delay:  sig.Cal.PortDelay,
		})
	}
}

// mine reports whether a leaf operation runs on this generator's device.
func (g *devgen) mine(n *scheduler.Node) bool {
	return n.Device == g.dev
}

// subtreeHasOps reports whether any play or acquire under n belongs to this
// device.
func (g *devgen) subtreeHasOps(n *scheduler.Node) bool {
	found := false
	n.Walk(func(c *scheduler.Node) bool {
		if found {
			return false
		}
		switch c.Kind {
		case scheduler.KindPlay, scheduler.KindAcquire:
			if c.Device == g.dev {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func byStart(children []*scheduler.Node) []*scheduler.Node {
	out := make([]*scheduler.Node, len(children))
	copy(out, children)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (g *devgen) emitChildren(n *scheduler.Node) {
	for _, c := range byStart(n.Children) {
		g.emitNode(c)
	}
}

func (g *devgen) emitNode(n *scheduler.Node) {
	switch n.Kind {
	case scheduler.KindSection:
		g.emitSection(n)
	case scheduler.KindRTLoop:
		g.emitRTLoop(n)
	case scheduler.KindSweep:
		g.emitSweep(n)
	case scheduler.KindIteration:
		g.emitIteration(n)
	case scheduler.KindMatch:
		g.emitMatch(n)
	case scheduler.KindPlay:
		g.emitPlay(n)
	case scheduler.KindAcquire:
		g.emitAcquire(n)
	case scheduler.KindDelay, scheduler.KindReserve:
		// Delays and reservations shape the timeline but emit nothing;
		// the next operation's wait absorbs the gap.
	case scheduler.KindCase:
		// Cases are emitted by their match.
	}
}

func (g *devgen) emitSection(n *scheduler.Node) {
	mask := g.triggerMask(n)
	if mask != 0 {
		g.waitTo(n.Start)
		g.prog.emit(OpSetTrigger, mask)
	}
	g.emitChildren(n)
	if mask != 0 {
		g.waitTo(n.End)
		g.prog.emit(OpClearTrigger, mask)
	}
}

func (g *devgen) triggerMask(n *scheduler.Node) uint32 {
	var mask uint32
	for _, t := range n.Triggers {
		if sig, ok := g.res.Signals[t.Signal]; ok && sig.Device.UID == g.dev {
			mask |= 1 << uint(t.Bit)
		}
	}
	return mask
}

func (g *devgen) emitRTLoop(n *scheduler.Node) {
	// Entry barrier: the hub emits the start marker, everyone else gates
	// the first pass on it. A hubless single-device setup needs neither.
	if m, ok := g.markerByID(n.MarkerID); ok && m.From != "" {
		idx := g.prog.markerIndex(m.ID)
		g.waitTo(n.Start)
		if g.dev == m.From {
			g.prog.emit(OpSyncEmit, uint32(idx))
		} else {
			g.prog.emit(OpSyncWait, uint32(idx))
		}
	}
	if g.caps.IsHub {
		return
	}

	loop, _ := n.Source.(*exp.AcquireLoopRt)
	sequential := loop != nil && loop.Averaging == exp.AverageSequential && hasSweep(n)
	if sequential {
		// Sequential averaging repeats each sweep point in place; the
		// per-iteration repeat loops are emitted by the sweep below.
		g.emitChildren(n)
		g.waitTo(n.End)
		return
	}
	g.waitTo(n.Start)
	g.prog.emit(OpLoopEnter, uint32(n.Count), noParamTable)
	g.emitChildren(n)
	g.waitTo(n.End)
	g.prog.Code = append(g.prog.Code, byte(OpLoopExit))
}

func hasSweep(n *scheduler.Node) bool {
	found := false
	n.Walk(func(c *scheduler.Node) bool {
		if c.Kind == scheduler.KindSweep {
			found = true
		}
		return !found
	})
	return found
}

func (g *devgen) markerByID(id string) (scheduler.Marker, bool) {
	for _, m := range g.sched.Markers {
		if m.ID == id {
			return m, true
		}
	}
	return scheduler.Marker{}, false
}

func (g *devgen) emitIteration(n *scheduler.Node) {
	saved := g.bindParams(n.ParamValues)
	defer g.restoreParams(saved)

	g.emitOscFreqUpdates(n.ParamValues)

	if n.RepeatCount > 1 {
		g.waitTo(n.Start)
		g.prog.emit(OpLoopEnter, uint32(n.RepeatCount), noParamTable)
		g.emitChildren(n)
		g.waitTo(n.End)
		g.prog.Code = append(g.prog.Code, byte(OpLoopExit))
		return
	}
	g.emitChildren(n)
}

func (g *devgen) bindParams(values []scheduler.ParamValue) map[string]*float64 {
	saved := make(map[string]*float64, len(values))
	for _, pv := range values {
		if old, ok := g.env[pv.UID]; ok {
			v := old
			saved[pv.UID] = &v
		} else {
			saved[pv.UID] = nil
		}
		g.env[pv.UID] = pv.Value
	}
	return saved
}

func (g *devgen) restoreParams(saved map[string]*float64) {
	for uid, old := range saved {
		if old == nil {
			delete(g.env, uid)
		} else {
			g.env[uid] = *old
		}
	}
}

// emitOscFreqUpdates issues an immediate oscillator retune when this device
// carries a hardware-modulated oscillator whose frequency is stepped by the
// iteration being entered.
func (g *devgen) emitOscFreqUpdates(values []scheduler.ParamValue) {
	if !g.res.HWSweptOsc[g.dev] || g.compressed > 0 {
		return
	}
	stepped := map[string]float64{}
	for _, pv := range values {
		stepped[pv.UID] = pv.Value
	}
	emitted := map[string]bool{}
	for _, name := range g.res.SignalNames() {
		sig := g.res.Signals[name]
		if sig.Device.UID != g.dev || sig.Cal == nil || sig.Cal.Oscillator == nil {
			continue
		}
		osc := sig.Cal.Oscillator
		if osc.Modulation != device.ModulationHardware || !osc.Frequency.IsSwept() {
			continue
		}
		uid := osc.Frequency.Param.UID
		freq, ok := stepped[uid]
		if !ok || emitted[uid] {
			continue
		}
		emitted[uid] = true
		if freq < 0 || freq > math.MaxUint32 {
			g.errf(diagnostics.ErrG301, uid,
				"oscillator frequency %g Hz does not fit the immediate retune operand (0..%d Hz)",
				freq, uint32(math.MaxUint32))
			continue
		}
		g.prog.emit(OpSetOscFreqImm, uint32(freq))
	}
}

func (g *devgen) emitAcquire(n *scheduler.Node) {
	if !g.mine(n) || !g.streamReaches(n) {
		return
	}
	g.waitTo(n.Start)
	idx := g.prog.handleIndex(n.Handle)
	g.prog.emit(OpAcquire, uint32(idx), uint32(n.Length()/g.caps.TicksPerSample))
	g.advance(n.End)
}

func (g *devgen) emitPlay(n *scheduler.Node) {
	if !g.mine(n) {
		return
	}
	play, ok := n.Source.(*exp.Play)
	if !ok {
		return
	}
	if !g.streamReaches(n) {
		return
	}
	g.waitTo(n.Start)

	if play.SetOscillatorPhase != nil {
		g.prog.emit(OpSetPhase, phaseWord(*play.SetOscillatorPhase))
	}
	if play.IncrementOscillatorPhase != nil {
		g.prog.emit(OpIncPhase, phaseWord(*play.IncrementOscillatorPhase))
	}

	if g.ct != nil {
		if group, ok := g.ct[play.UID]; ok {
			g.prog.emit(OpPlayCT, uint32(group))
			g.advance(n.End)
			return
		}
	}

	idx, ok := g.renderPlay(play, n)
	if !ok {
		return
	}
	if err := g.prog.validateOperandRange("waveform", idx, 0xffff); err != nil {
		g.errf(diagnostics.ErrG301, play.UID, "%v", err)
		return
	}
	g.prog.emit(OpPlayWave, uint32(idx))
	g.advance(n.End)
}

// resolveValue evaluates a possibly swept value against the active iteration
// bindings. A parameter bound outside any visited iteration falls back to its
// first value, matching the scheduler's duration bookkeeping.
func (g *devgen) resolveValue(v exp.Value) float64 {
	if v.Param == nil {
		return v.Fixed
	}
	if x, ok := g.env[v.Param.UID]; ok {
		return x
	}
	if len(v.Param.Values) > 0 {
		return v.Param.Values[0]
	}
	return 0
}

// renderPlay renders the resolved envelope of a play and interns it into the
// waveform table.
func (g *devgen) renderPlay(play *exp.Play, n *scheduler.Node) (int, bool) {
	var amp, phase *float64
	if play.Amplitude != nil {
		a := g.resolveValue(*play.Amplitude)
		amp = &a
	}
	if play.Phase != nil {
		phase = play.Phase
	}
	return g.renderWave(play, n, amp, phase)
}

// renderWave renders the play envelope with explicit amplitude and phase
// overrides and interns it into the waveform table. Command-table playback
// renders at unit amplitude and zero phase and lets the table rows scale and
// rotate.
func (g *devgen) renderWave(play *exp.Play, n *scheduler.Node, amp, phase *float64) (int, bool) {
	opts := &pulse.RenderOptions{Amplitude: amp, Phase: phase}
	sig := waveSignature{
		PulseUID:  play.Pulse.UID,
		Function:  play.Pulse.Function,
		Amplitude: play.Pulse.Amplitude,
		Phase:     play.Pulse.Phase,
		Sigma:     play.Pulse.Sigma,
		Beta:      play.Pulse.Beta,
		Width:     play.Pulse.Width,
	}
	if amp != nil {
		sig.Amplitude = *amp
	}
	if phase != nil {
		sig.Phase = *phase
	}
	length := play.Pulse.Length
	if play.Length != nil {
		length = g.resolveValue(*play.Length)
		opts.Length = &length
	}

	samples, err := play.Pulse.Render(g.caps.SampleRateHz, opts)
	if err != nil {
		g.errf(diagnostics.ErrG301, play.UID, "rendering pulse %s: %v", play.Pulse.UID, err)
		return 0, false
	}

	// Pad to the scheduled window so the table entry covers the full
	// granularity-rounded span.
	want := int(n.Length() / g.caps.TicksPerSample)
	for len(samples) < want {
		samples = append(samples, 0)
	}
	sig.Samples = len(samples)

	return g.wt.intern(sig, n.Signal, samples), true
}
