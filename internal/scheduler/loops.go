package scheduler

import (
	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
)

// scheduleSweep expands a sweep into one scheduled iteration per value.
// Outside a real-time loop the iterations are independent near-time steps;
// inside one they become a hardware loop with a per-iteration parameter
// table when every consuming device supports real-time parameter stepping
// and all iterations have equal length, and stay unrolled otherwise.
func (s *state) scheduleSweep(sw *exp.Sweep, ictx *iterCtx, rtOff int64, rtValid bool) *Node {
	grid := s.sectionGrid(sw, sw.OnSystemGrid)
	count := 0
	if len(sw.Parameters) > 0 {
		count = len(sw.Parameters[0].Values)
	}
	inRT := s.rt != nil

	node := &Node{
		UID:    sw.UID,
		Kind:   KindSweep,
		Source: sw,
		Grid:   grid,
		Count:  count,
	}

	repeat := 0
	if inRT && s.rt.loop.Averaging == exp.AverageSequential {
		repeat = s.rt.loop.Count
	}

	var cursor int64
	equal := true
	var firstLen int64 = -1
	for i := 0; i < count; i++ {
		ictx.push(sw.Parameters, i)

		iter := &Node{
			UID:         sw.UID + "_it",
			Kind:        KindIteration,
			Grid:        grid,
			Iteration:   i,
			RepeatCount: repeat,
			NTStep:      -1,
		}
		for _, p := range sw.Parameters {
			iter.ParamValues = append(iter.ParamValues, ParamValue{UID: p.UID, Value: p.Values[i]})
		}
		body := s.layoutChildren(iter, sw.Children, ictx, rtOff+cursor, rtValid && inRT)
		iter.End = config.RoundUpToGrid(body, grid)
		for _, c := range iter.Children {
			if c.Kind == KindReserve {
				c.End = iter.End
			}
		}

		iter.Start = cursor
		iter.End += cursor
		cursor = iter.End
		node.Children = append(node.Children, iter)

		if firstLen == -1 {
			firstLen = iter.Length()
		} else if iter.Length() != firstLen {
			equal = false
		}

		if !inRT {
			iter.NTStep = i
		}

		ictx.pop()
	}
	node.End = cursor

	if inRT {
		s.rt.sweepDims = append(s.rt.sweepDims, count)

		capable := true
		for _, dev := range s.paramConsumers(sw, sw.Parameters) {
			if !s.res.Setup.Devices[dev].Capabilities().SupportsRealTimeSweep {
				capable = false
				s.errf(diagnostics.ErrT204, sw.UID,
					"parameter swept in real time but device %q does not support real-time parameter updates", dev)
			}
		}
		if capable && equal && count > 1 {
			node.RTCompiled = true
			for _, iter := range node.Children[1:] {
				iter.Shadow = true
			}
		}
	} else {
		s.ntDims = append(s.ntDims, count)
	}
	return node
}

// scheduleRTLoop schedules the real-time acquisition loop: a single pass of
// its inner structure on the system grid, wrapped by the hardware repeat.
// Cyclic averaging repeats the whole pass; sequential averaging attaches the
// repeat to each sweep iteration instead.
func (s *state) scheduleRTLoop(loop *exp.AcquireLoopRt, ictx *iterCtx) *Node {
	if s.rt != nil {
		s.errf(diagnostics.ErrG301, loop.UID,
			"nested real-time acquisition loops are not supported (already inside %q)", s.rt.loop.UID)
		return &Node{UID: loop.UID, Kind: KindRTLoop}
	}

	s.rt = &rtFrame{
		loop:      loop,
		acquires:  make(map[string]acqInfo),
		handleSig: make(map[string]string),
	}

	grid := config.LCM(s.sectionGrid(loop, true), s.sysGrid)
	node := &Node{
		UID:      loop.UID,
		Kind:     KindRTLoop,
		Source:   loop,
		Grid:     grid,
		Count:    loop.Count,
		MarkerID: s.markerID(loop.UID),
		Triggers: loop.Triggers,
	}

	// Entry barrier: every participating device waits for the common
	// start marker before the first pass.
	s.markers = append(s.markers, Marker{ID: node.MarkerID, From: s.res.Setup.Hub, To: "*"})

	body := s.layoutChildren(node, loop.Children, ictx, 0, true)
	node.End = config.RoundUpToGrid(body, grid)
	for _, c := range node.Children {
		if c.Kind == KindReserve {
			c.End = node.End
		}
	}
	return node
}

// clampMatchStart enforces the feedback latency floor at placement time and
// quantizes the branch point to the match grid, so every participating device
// reaches it on a whole sample. The returned start is relative to the
// enclosing container's content start.
func (s *state) clampMatchStart(m *exp.Match, start, rtOff int64, rtValid bool) int64 {
	if s.rt == nil {
		s.errf(diagnostics.ErrF403, m.UID, "match is not nested inside a real-time acquisition loop")
		return start
	}
	if !rtValid {
		s.errf(diagnostics.ErrS006, m.UID,
			"match underneath a right-aligned section is not supported")
		return start
	}
	acq, ok := s.rt.acquires[m.Handle]
	if !ok {
		s.errf(diagnostics.ErrF402, m.UID,
			"handle %q was not produced by an earlier acquire in this real-time pass", m.Handle)
		return start
	}

	global := s.matchIsGlobal(m, acq)
	floorNs := int64(config.LocalFeedbackFloorNs)
	if global {
		floorNs = config.GlobalFeedbackFloorNs
	}
	floor := config.NanosToTicks(floorNs)
	declared := config.SecondsToTicks(m.Delay)

	evaluated := declared
	if evaluated < floor {
		if s.strictFeedback {
			s.errf(diagnostics.ErrG301, m.UID,
				"declared feedback delay %.0f ns is below the %s-path floor of %d ns",
				m.Delay*1e9, pathName(global), floorNs)
		} else {
			s.diags = append(s.diags, diagnostics.NewWarning(diagnostics.WarnF451, m.UID,
				"declared feedback delay %.0f ns clamped to the %s-path floor of %d ns",
				m.Delay*1e9, pathName(global), floorNs))
		}
		evaluated = floor
	}

	required := (acq.endOff - rtOff) + evaluated
	if required > start {
		start = required
	}
	grid := s.sectionGrid(m, m.OnSystemGrid)
	if global {
		grid = config.LCM(grid, s.sysGrid)
	}
	// Quantize in loop-pass ticks: the enclosing container's content start
	// need not itself sit on the match grid.
	start = config.RoundUpToGrid(rtOff+start, grid) - rtOff
	s.pendingMatch = &matchPlacement{
		uid:       m.UID,
		evaluated: start - (acq.endOff - rtOff),
		global:    global,
		acqDevice: acq.device,
	}
	return start
}

func pathName(global bool) string {
	if global {
		return "global"
	}
	return "local"
}

type matchPlacement struct {
	uid       string
	evaluated int64 // final acquire-end-to-match delay in ticks
	global    bool
	acqDevice string
}

// matchIsGlobal reports whether the decision data must travel through the
// synchronization hub: true when any case branch plays on a different
// physical unit than the acquiring one.
func (s *state) matchIsGlobal(m *exp.Match, acq acqInfo) bool {
	global := false
	exp.Walk(m, func(n exp.Node) bool {
		if op, ok := n.(exp.Operation); ok {
			if dev := s.res.DeviceOf(op.Signal()); dev != "" && dev != acq.device {
				global = true
			}
		}
		return true
	})
	if global && s.res.Setup.Hub == "" {
		s.errf(diagnostics.ErrG301, m.UID,
			"cross-device feedback requires a synchronization hub, but the setup has none")
	}
	return global
}

// scheduleMatch schedules a feedback branch point. All case branches share
// the match's window; exactly one executes per pass.
func (s *state) scheduleMatch(m *exp.Match, ictx *iterCtx, rtOff int64, rtValid bool) *Node {
	placement := s.pendingMatch
	s.pendingMatch = nil

	grid := s.sectionGrid(m, m.OnSystemGrid)
	if placement != nil && placement.global {
		grid = config.LCM(grid, s.sysGrid)
	}

	node := &Node{
		UID:    m.UID,
		Kind:   KindMatch,
		Source: m,
		Grid:   grid,
		Handle: m.Handle,
	}
	if placement != nil {
		node.FeedbackGlobal = placement.global
		if placement.global {
			node.MarkerID = s.markerID(m.UID)
			s.markers = append(s.markers, Marker{
				ID:     node.MarkerID,
				From:   placement.acqDevice,
				To:     "*",
				Handle: m.Handle,
			})
		}
	}

	var alphabet int
	if s.rt != nil {
		if acq, ok := s.rt.acquires[m.Handle]; ok {
			alphabet = s.res.Setup.Devices[acq.device].Capabilities().DiscriminationStates
		}
	}

	var length int64
	states := make(map[int]bool)
	for _, child := range m.Children {
		c, ok := child.(*exp.Case)
		if !ok {
			s.errf(diagnostics.ErrS004, m.UID, "match child %q is not a case", child.NodeUID())
			continue
		}
		if states[c.State] {
			s.errf(diagnostics.ErrF401, m.UID, "two case branches declare state %d", c.State)
		}
		states[c.State] = true
		if alphabet > 0 && (c.State < 0 || c.State >= alphabet) {
			s.errf(diagnostics.ErrF404, c.UID,
				"case label %d is outside the discrimination alphabet [0, %d)", c.State, alphabet)
		}

		caseNode := s.scheduleChildSection(c, ictx, rtOff, rtValid)
		if caseNode.End == 0 {
			// An empty branch still occupies one grid step so that all
			// branches share a window.
			caseNode.End = grid
		}
		node.Children = append(node.Children, caseNode)
		if caseNode.End > length {
			length = caseNode.End
		}
	}

	for st := 0; st < alphabet; st++ {
		if !states[st] {
			s.errf(diagnostics.ErrF404, m.UID,
				"case branches do not cover discrimination state %d", st)
		}
	}

	length = config.RoundUpToGrid(length, grid)
	node.End = length
	// Branches are alternatives: they all occupy the full match window.
	for _, c := range node.Children {
		c.Start = 0
		c.End = length
	}
	if placement != nil {
		node.EvaluatedDelay = placement.evaluated
	}
	return node
}
