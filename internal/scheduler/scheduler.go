package scheduler

import (
	"sort"

	"github.com/google/uuid"

	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/resolver"
)

type acqInfo struct {
	uid    string
	device string
	signal string
	endOff int64 // end offset relative to the rt loop's content start
}

type rtFrame struct {
	loop      *exp.AcquireLoopRt
	acquires  map[string]acqInfo
	handles   []string
	handleSig map[string]string
	sweepDims []int
}

type state struct {
	res            *resolver.Resolved
	diags          diagnostics.List
	sysGrid        int64
	markers        []Marker
	rt             *rtFrame
	ntDims         []int
	strictFeedback bool

	// pendingMatch carries placement facts from clampMatchStart to
	// scheduleMatch within a single layout step.
	pendingMatch *matchPlacement
}

func (s *state) errf(code diagnostics.Code, node, format string, args ...any) *diagnostics.Diagnostic {
	d := diagnostics.NewError(code, node, format, args...)
	s.diags = append(s.diags, d)
	return d
}

// markerID derives a stable synchronization marker id from the experiment
// identity and the owning node, so recompiling identical inputs yields
// identical artifacts.
func (s *state) markerID(nodeUID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.res.Experiment.UID+"/"+nodeUID)).String()
}

// Options tune the scheduling stage.
type Options struct {
	// StrictFeedback makes an under-declared feedback delay an error
	// instead of a clamped warning.
	StrictFeedback bool
}

// Build walks the resolved experiment once and produces the time-annotated
// tree.
func Build(res *resolver.Resolved, opts Options) (*Schedule, diagnostics.List) {
	s := &state{
		res:            res,
		sysGrid:        res.SystemGridTicks(),
		strictFeedback: opts.StrictFeedback,
	}

	ictx := &iterCtx{}
	root := s.scheduleChildSection(res.Experiment.Root, ictx, 0, false)

	if !s.diags.HasErrors() {
		absolutize(root, 0)
		s.checkOverlaps(root)
	}
	if s.diags.HasErrors() {
		return nil, s.diags
	}

	sched := &Schedule{
		Root:       root,
		Resolved:   res,
		Markers:    s.markers,
		SystemGrid: s.sysGrid,
		NTDims:     s.ntDims,
		NTSteps:    product(s.ntDims),
	}
	root.Walk(func(n *Node) bool {
		if n.Kind == KindRTLoop {
			sched.RT = s.rtInfoFor(n)
			return false
		}
		return true
	})
	return sched, s.diags
}

func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

func (s *state) rtInfoFor(loop *Node) *RTInfo {
	if s.rt == nil {
		return nil
	}
	handles := make([]string, len(s.rt.handles))
	copy(handles, s.rt.handles)
	sortAndDedup(&handles)
	return &RTInfo{
		LoopUID:      loop.UID,
		Count:        loop.Count,
		Averaging:    s.rt.loop.Averaging,
		Acquisition:  s.rt.loop.Acquisition,
		Handles:      handles,
		HandleSignal: s.rt.handleSig,
		SweepDims:    s.rt.sweepDims,
	}
}

func sortAndDedup(s *[]string) {
	in := *s
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	*s = out
}

// scheduleChildSection dispatches on the section variant. The returned node's
// Start is zero; the caller assigns the offset within its own content.
// rtOff is the offset of this section's content start relative to the
// enclosing real-time loop; rtValid reports whether that offset is final
// (it is not underneath right-aligned sections, whose children shift).
func (s *state) scheduleChildSection(sn exp.SectionNode, ictx *iterCtx, rtOff int64, rtValid bool) *Node {
	switch c := sn.(type) {
	case *exp.Sweep:
		return s.scheduleSweep(c, ictx, rtOff, rtValid)
	case *exp.AcquireLoopRt:
		return s.scheduleRTLoop(c, ictx)
	case *exp.Match:
		return s.scheduleMatch(c, ictx, rtOff, rtValid)
	case *exp.Case:
		return s.schedulePlainSection(&c.Section, KindCase, c, ictx, rtOff, rtValid)
	default:
		return s.schedulePlainSection(sn.Base(), KindSection, sn, ictx, rtOff, rtValid)
	}
}

// schedulePlainSection lays out a section's children and quantizes its
// length.
func (s *state) schedulePlainSection(base *exp.Section, kind Kind, sn exp.SectionNode, ictx *iterCtx, rtOff int64, rtValid bool) *Node {
	grid := s.sectionGrid(sn, base.OnSystemGrid)
	node := &Node{
		UID:      base.UID,
		Kind:     kind,
		Source:   sn,
		Grid:     grid,
		Triggers: base.Triggers,
	}
	if c, ok := sn.(*exp.Case); ok {
		node.State = c.State
	}

	body := s.layoutChildren(node, base.Children, ictx, rtOff, rtValid && base.Alignment == exp.AlignLeft)

	length := config.RoundUpToGrid(body, grid)
	if base.Length != nil {
		explicit := config.SecondsToTicks(*base.Length)
		if explicit%grid != 0 {
			s.errf(diagnostics.ErrT202, base.UID,
				"explicit length %.4g s is not a multiple of the required grid (%d ticks)",
				*base.Length, grid).WithWindow(0, explicit)
		}
		if explicit > length {
			length = explicit
		}
	}
	node.End = length

	if base.Alignment == exp.AlignRight {
		shift := length - body
		for _, c := range node.Children {
			if c.Kind == KindReserve {
				continue
			}
			c.Start += shift
			c.End += shift
		}
	}
	for _, c := range node.Children {
		if c.Kind == KindReserve {
			c.Start = 0
			c.End = length
		}
	}
	return node
}

// layoutChildren places operations and subsections within a container.
// Returns the raw body length before grid rounding. Child starts are
// relative to the container's content start.
func (s *state) layoutChildren(container *Node, children []exp.Node, ictx *iterCtx, rtOff int64, rtValid bool) int64 {
	cursors := make(map[string]int64)
	sectionEnds := make(map[string]int64)
	var body int64

	bump := func(v int64) {
		if v > body {
			body = v
		}
	}

	for _, child := range children {
		switch c := child.(type) {
		case exp.Operation:
			s.layoutOperation(container, c, ictx, cursors, rtOff, rtValid, bump)

		case exp.SectionNode:
			cb := c.Base()
			start := int64(0)
			for _, sig := range sectionSignals(c) {
				if cur := cursors[sig]; cur > start {
					start = cur
				}
			}
			for _, ref := range cb.PlayAfter {
				end, ok := sectionEnds[ref]
				if !ok {
					s.errf(diagnostics.ErrT203, cb.UID,
						"play-after references %q, which is not an earlier sibling", ref)
					continue
				}
				if end > start {
					start = end
				}
				s.crossDeviceMarker(container, ref, c)
			}

			if m, ok := c.(*exp.Match); ok {
				start = s.clampMatchStart(m, start, rtOff, rtValid)
			}

			childNode := s.scheduleChildSection(c, ictx, rtOff+start, rtValid)
			childNode.Start = start
			childNode.End = start + childNode.End
			container.Children = append(container.Children, childNode)

			sectionEnds[cb.UID] = childNode.End
			for _, sig := range sectionSignals(c) {
				cursors[sig] = childNode.End
			}
			bump(childNode.End)
		}
	}
	return body
}

func (s *state) layoutOperation(container *Node, op exp.Operation, ictx *iterCtx, cursors map[string]int64, rtOff int64, rtValid bool, bump func(int64)) {
	dur, diag := s.opDuration(op, ictx)
	if diag != nil {
		s.diags = append(s.diags, diag)
		return
	}

	kind := KindPlay
	switch op.(type) {
	case *exp.Delay:
		kind = KindDelay
	case *exp.Acquire:
		kind = KindAcquire
	case *exp.Reserve:
		kind = KindReserve
	}

	node := &Node{
		UID:    op.NodeUID(),
		Kind:   kind,
		Source: op,
		Signal: op.Signal(),
		Device: s.res.DeviceOf(op.Signal()),
	}

	if kind == KindReserve {
		// Spans the whole section; the section fixes the window later.
		container.Children = append(container.Children, node)
		return
	}

	start := cursors[op.Signal()]
	node.Start = start
	node.End = start + dur
	cursors[op.Signal()] = node.End
	container.Children = append(container.Children, node)
	bump(node.End)

	if acq, ok := op.(*exp.Acquire); ok {
		node.Handle = acq.Handle
		if s.rt != nil {
			if rtValid {
				s.rt.acquires[acq.Handle] = acqInfo{
					uid:    acq.UID,
					device: node.Device,
					signal: acq.Sig,
					endOff: rtOff + node.End,
				}
			}
			s.rt.handles = append(s.rt.handles, acq.Handle)
			s.rt.handleSig[acq.Handle] = acq.Sig
		}
	}
}

// crossDeviceMarker allocates a synchronization marker when a play-after
// constraint couples sections on different devices.
func (s *state) crossDeviceMarker(container *Node, refUID string, child exp.SectionNode) {
	refDevices := make(map[string]bool)
	var refNode *Node
	for _, c := range container.Children {
		if c.UID == refUID {
			refNode = c
		}
	}
	if refNode == nil {
		return
	}
	refNode.Walk(func(n *Node) bool {
		if n.Device != "" {
			refDevices[n.Device] = true
		}
		return true
	})
	for _, sig := range sectionSignals(child) {
		dev := s.res.DeviceOf(sig)
		if dev == "" || refDevices[dev] {
			continue
		}
		var from string
		for d := range refDevices {
			if from == "" || d < from {
				from = d
			}
		}
		if from == "" {
			continue
		}
		id := s.markerID(refUID + ">" + child.Base().UID)
		for _, m := range s.markers {
			if m.ID == id {
				return
			}
		}
		s.markers = append(s.markers, Marker{ID: id, From: from, To: dev})
		return
	}
}

func absolutize(n *Node, parentStart int64) {
	n.Start += parentStart
	n.End += parentStart
	for _, c := range n.Children {
		absolutize(c, n.Start)
	}
}
