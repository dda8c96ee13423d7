package codegen

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/scheduler"
)

// emitMatch lowers a match into a state branch. On a global path the
// acquiring device publishes the discriminated state over the sync hub first;
// every device playing a case gates on that marker, branches on the state and
// pads each arm to the common match window so all arms take identical time.
func (g *devgen) emitMatch(n *scheduler.Node) {
	marker, hasMarker := g.markerByID(n.MarkerID)
	isSource := hasMarker && marker.From == g.dev

	if isSource {
		// The owning acquire has already been emitted, so the state is
		// available here.
		g.prog.emit(OpSyncEmit, uint32(g.prog.markerIndex(marker.ID)))
	}

	if !g.subtreeHasOps(n) {
		return
	}
	if hasMarker && !isSource {
		g.prog.emit(OpSyncWait, uint32(g.prog.markerIndex(marker.ID)))
	}
	g.waitTo(n.Start)

	cases := byState(n.Children)
	states := make([]int, len(cases))
	for i, c := range cases {
		states[i] = c.State
	}

	sites := g.prog.emitBranch(g.prog.handleIndex(n.Handle), states)
	ends := make([]int, 0, len(cases))
	for i, c := range cases {
		g.prog.patch(sites[i])
		// Every arm replays the same window.
		g.cursor = n.Start
		g.emitChildren(c)
		g.waitTo(n.End)
		ends = append(ends, g.prog.emitJump())
	}
	for _, site := range ends {
		g.prog.patch(site)
	}
	g.cursor = n.End
}

func byState(children []*scheduler.Node) []*scheduler.Node {
	out := make([]*scheduler.Node, 0, len(children))
	for _, c := range children {
		if c.Kind == scheduler.KindCase {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out
}
