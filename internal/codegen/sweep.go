package codegen

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/scheduler"
)

// emitSweep lowers a sweep node. Near-time sweeps and real-time sweeps the
// scheduler could not compress are already unrolled in the timeline and emit
// iteration by iteration. A compressed sweep becomes a hardware loop over the
// first iteration's body, with swept playback routed through the command
// table so one body serves every step.
func (g *devgen) emitSweep(n *scheduler.Node) {
	if !n.RTCompiled {
		g.emitChildren(n)
		return
	}
	iters := byStart(n.Children)
	if len(iters) == 0 {
		return
	}
	if !g.subtreeHasOps(n) {
		// Idle device: the lazy wait before its next operation spans
		// the whole sweep, which equals count passes of the loop body.
		return
	}

	varying := g.varyingPlays(iters[0])
	if len(varying) > 0 && !g.caps.SupportsCommandTable {
		// No command table to vary playback per pass, so this device
		// falls back to the unrolled timeline the scheduler laid out.
		g.emitChildren(n)
		return
	}

	g.waitTo(n.Start)

	tableIdx := noParamTable
	for i, pv := range iters[0].ParamValues {
		idx := g.prog.paramTableIndex(pv.UID, paramColumn(iters, pv.UID))
		if i == 0 {
			tableIdx = idx
		}
	}
	g.prog.emit(OpLoopEnter, uint32(len(iters)), uint32(tableIdx))
	g.emitOscFreqTables(iters[0].ParamValues)

	g.ct = map[string]int{}
	g.buildCommandTable(iters, varying)

	g.compressed++
	g.emitIteration(iters[0])
	g.compressed--
	g.waitTo(iters[0].End)

	g.ct = nil
	g.prog.Code = append(g.prog.Code, byte(OpLoopExit))

	// One emitted pass stands in for the full unrolled span.
	g.cursor = n.End
}

// paramColumn gathers one parameter's value per iteration.
func paramColumn(iters []*scheduler.Node, uid string) []float64 {
	out := make([]float64, len(iters))
	for k, it := range iters {
		for _, pv := range it.ParamValues {
			if pv.UID == uid {
				out[k] = pv.Value
				break
			}
		}
	}
	return out
}

// emitOscFreqTables issues table-driven oscillator retunes at a compressed
// loop head for every hardware-modulated oscillator stepped by the loop.
func (g *devgen) emitOscFreqTables(values []scheduler.ParamValue) {
	if !g.res.HWSweptOsc[g.dev] {
		return
	}
	stepped := map[string]bool{}
	for _, pv := range values {
		stepped[pv.UID] = true
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
		if !stepped[uid] || emitted[uid] {
			continue
		}
		emitted[uid] = true
		idx := g.prog.paramTableIndex(uid, osc.Frequency.Param.Values)
		g.prog.emit(OpSetOscFreq, uint32(idx))
	}
}

// varyingPlays finds the plays of this device inside an iteration body whose
// rendered output depends on a parameter the iteration steps.
func (g *devgen) varyingPlays(iter *scheduler.Node) []*scheduler.Node {
	stepped := map[string]bool{}
	for _, pv := range iter.ParamValues {
		stepped[pv.UID] = true
	}
	var out []*scheduler.Node
	iter.Walk(func(c *scheduler.Node) bool {
		if c.Kind != scheduler.KindPlay || c.Device != g.dev {
			return true
		}
		play, ok := c.Source.(*exp.Play)
		if !ok {
			return true
		}
		if valueStepped(play.Amplitude, stepped) || valueStepped(play.Length, stepped) {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func valueStepped(v *exp.Value, stepped map[string]bool) bool {
	return v != nil && v.Param != nil && stepped[v.Param.UID]
}

// buildCommandTable builds one command table group per varying play, with a
// row per sweep step. The sequencer's active loop counter picks the row, so
// the single loop body plays a different amplitude, phase or envelope each
// pass. The envelope is rendered once at unit amplitude and zero phase; the
// rows carry the per-pass scaling. Only a swept length forces one envelope
// per step.
func (g *devgen) buildCommandTable(iters []*scheduler.Node, varying []*scheduler.Node) {
	nextGroup := 0
	if len(g.prog.CommandTable) > 0 {
		nextGroup = g.prog.CommandTable[len(g.prog.CommandTable)-1].Group + 1
	}
	stepped := map[string]bool{}
	for _, pv := range iters[0].ParamValues {
		stepped[pv.UID] = true
	}
	unitAmp, zeroPhase := 1.0, 0.0

	for _, pn := range varying {
		play := pn.Source.(*exp.Play)
		group := nextGroup
		nextGroup++
		g.ct[play.UID] = group

		shared := -1
		if !valueStepped(play.Length, stepped) {
			if idx, ok := g.renderWave(play, pn, &unitAmp, &zeroPhase); ok {
				shared = idx
			}
		}

		for k, it := range iters {
			saved := g.bindParams(it.ParamValues)
			amp := play.Pulse.Amplitude
			if amp == 0 {
				amp = config.DefaultAmplitude
			}
			if play.Amplitude != nil {
				amp = g.resolveValue(*play.Amplitude)
			}
			phase := play.Pulse.Phase
			if play.Phase != nil {
				phase = *play.Phase
			}
			idx, ok := shared, shared >= 0
			if !ok {
				node := findPlayNode(it, play)
				if node == nil {
					node = pn
				}
				idx, ok = g.renderWave(play, node, &unitAmp, &zeroPhase)
			}
			g.restoreParams(saved)
			if !ok {
				continue
			}
			g.prog.CommandTable = append(g.prog.CommandTable, CTEntry{
				Group:     group,
				Iteration: k,
				Waveform:  idx,
				Amplitude: amp,
				Phase:     phase,
			})
		}
	}
}

// findPlayNode locates the scheduled node of a play inside one iteration.
// Iterations share source operations, so pointer identity is the key.
func findPlayNode(iter *scheduler.Node, play *exp.Play) *scheduler.Node {
	var found *scheduler.Node
	iter.Walk(func(c *scheduler.Node) bool {
		if found != nil {
			return false
		}
		if c.Kind == scheduler.KindPlay && c.Source == exp.Node(play) {
			found = c
			return false
		}
		return true
	})
	return found
}
