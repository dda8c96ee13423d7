// Package feedback resolves real-time conditional branches: it binds every
// match construct to the acquisition that produces its decision data,
// classifies the feedback path as local or global, and certifies that the
// scheduled acquire-to-match latency satisfies the path's floor. Its
// resolutions feed the code generator's branch setup.
package feedback

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/scheduler"
)

// Resolution is the certified binding of one match node.
type Resolution struct {
	MatchUID   string
	Handle     string
	AcquireUID string

	// Global is true when the decision travels through the hub to a
	// different physical unit than the acquiring one.
	Global bool

	// FloorTicks is the mandatory minimum latency for the path.
	FloorTicks int64

	// LatencyTicks is the scheduled acquire-end-to-match latency.
	LatencyTicks int64

	// States lists the case labels, sorted.
	States []int

	// MarkerID is the synchronization marker carrying the decision for
	// global paths, empty for local ones.
	MarkerID string
}

// FloorTicks returns the latency floor for a path type.
func FloorTicks(global bool) int64 {
	if global {
		return config.NanosToTicks(config.GlobalFeedbackFloorNs)
	}
	return config.NanosToTicks(config.LocalFeedbackFloorNs)
}

// Resolve walks the schedule and certifies every match node. The scheduler
// has already clamped under-declared delays; resolution failing here means
// the schedule itself is inconsistent, which is always an error.
func Resolve(sched *scheduler.Schedule) ([]Resolution, diagnostics.List) {
	var diags diagnostics.List
	var out []Resolution

	if sched.RT == nil {
		// Without a real-time loop there is nothing to bind; any match
		// would have failed scheduling already.
		return nil, nil
	}

	// Acquire ends per handle, updated in schedule order so that a match
	// always binds the most recent acquire of its own pass, not one from
	// a later unrolled iteration.
	acquireEnd := make(map[string]*scheduler.Node)

	sched.Root.Walk(func(n *scheduler.Node) bool {
		if n.Kind == scheduler.KindAcquire {
			acquireEnd[n.Handle] = n
			return true
		}
		if n.Kind != scheduler.KindMatch {
			return true
		}
		acq, ok := acquireEnd[n.Handle]
		if !ok {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrF402, n.UID,
				"handle %q has no producing acquire", n.Handle))
			return true
		}
		if acq.End > n.Start {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrF402, n.UID,
				"acquire %q ends after match evaluation", acq.UID).
				WithWindow(n.Start, acq.End))
			return true
		}

		floor := FloorTicks(n.FeedbackGlobal)
		latency := n.Start - acq.End
		if latency < floor {
			diags = append(diags, diagnostics.NewError(diagnostics.ErrG301, n.UID,
				"scheduled feedback latency %d ticks is below the floor of %d ticks",
				latency, floor).WithWindow(acq.End, n.Start))
			return true
		}

		var states []int
		seen := make(map[int]bool)
		for _, c := range n.Children {
			if c.Kind != scheduler.KindCase {
				continue
			}
			if seen[c.State] {
				diags = append(diags, diagnostics.NewError(diagnostics.ErrF401, n.UID,
					"duplicate case branch for state %d", c.State))
				continue
			}
			seen[c.State] = true
			states = append(states, c.State)
		}
		sort.Ints(states)

		out = append(out, Resolution{
			MatchUID:     n.UID,
			Handle:       n.Handle,
			AcquireUID:   acq.UID,
			Global:       n.FeedbackGlobal,
			FloorTicks:   floor,
			LatencyTicks: latency,
			States:       states,
			MarkerID:     n.MarkerID,
		})
		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].MatchUID < out[j].MatchUID })
	return out, diags
}
