// Package scheduler assigns every operation of a resolved experiment an
// absolute, sample-accurate time window on the shared reference clock. It
// walks the experiment tree once, maintains per-signal cursors, honors
// alignment and play-after constraints, quantizes to device and system grids,
// and classifies sweeps as near-time unrolls or real-time parameter loops.
package scheduler

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/resolver"
)

// Kind classifies a scheduled node.
type Kind int

const (
	KindSection Kind = iota
	KindSweep
	KindIteration
	KindRTLoop
	KindMatch
	KindCase
	KindPlay
	KindDelay
	KindAcquire
	KindReserve
)

func (k Kind) String() string {
	switch k {
	case KindSweep:
		return "sweep"
	case KindIteration:
		return "iteration"
	case KindRTLoop:
		return "rt-loop"
	case KindMatch:
		return "match"
	case KindCase:
		return "case"
	case KindPlay:
		return "play"
	case KindDelay:
		return "delay"
	case KindAcquire:
		return "acquire"
	case KindReserve:
		return "reserve"
	default:
		return "section"
	}
}

// ParamValue is one parameter binding active for a sweep iteration.
type ParamValue struct {
	UID   string
	Value float64
}

// Node is a time-annotated mirror of an experiment tree node. During the
// layout pass Start is relative to the parent's content start; after
// absolutization both Start and End are absolute reference-clock ticks.
type Node struct {
	UID    string
	Kind   Kind
	Source exp.Node

	Signal string // leaf operations
	Device string // leaf operations

	Start int64
	End   int64
	Grid  int64

	Children []*Node

	// Sweep iterations.
	Iteration   int
	Shadow      bool
	ParamValues []ParamValue
	RepeatCount int // sequential averaging: hardware repeats per iteration
	NTStep      int // near-time step index, -1 for real-time content

	// Loops.
	Count      int
	RTCompiled bool // sweep compiled to a hardware loop + parameter table

	// Feedback.
	State          int
	Handle         string
	EvaluatedDelay int64
	FeedbackGlobal bool
	MarkerID       string

	Triggers []exp.TriggerOut
}

// Length is the node's duration in ticks.
func (n *Node) Length() int64 { return n.End - n.Start }

// Marker is a cross-device synchronization dependency realized by the code
// generator as an emit/await pair.
type Marker struct {
	ID     string
	From   string // emitting device uid
	To     string // awaiting device uid, "*" for all participants
	Handle string // non-empty for feedback markers
}

// RTInfo summarizes the real-time acquisition loop for the code generator and
// the result assembler.
type RTInfo struct {
	LoopUID     string
	Count       int
	Averaging   exp.AveragingMode
	Acquisition exp.AcquisitionType

	// Handles lists the acquisition handles produced inside the loop, in
	// sorted order.
	Handles []string

	// HandleSignal maps each handle to the experiment signal it acquires
	// on.
	HandleSignal map[string]string

	// SweepDims are the real-time sweep extents, outermost first.
	SweepDims []int
}

// Schedule is the immutable output of the scheduling stage.
type Schedule struct {
	Root       *Node
	Resolved   *resolver.Resolved
	RT         *RTInfo
	Markers    []Marker
	SystemGrid int64

	// NTSteps is the number of near-time steps (host re-triggers); at
	// least one.
	NTSteps int

	// NTDims are the near-time sweep extents, outermost first.
	NTDims []int
}

// SortedHandles returns the handles of an RTInfo, or nil without a loop.
func (s *Schedule) SortedHandles() []string {
	if s.RT == nil {
		return nil
	}
	out := make([]string, len(s.RT.Handles))
	copy(out, s.RT.Handles)
	sort.Strings(out)
	return out
}

// Walk visits the scheduled tree depth-first, parents first.
func (n *Node) Walk(visit func(*Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(visit)
	}
}
