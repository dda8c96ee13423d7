package scheduler

import (
	"testing"

	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/pulse"
	"github.com/quantumctl/pulsec/internal/resolver"
)

func testSetup() *device.Setup {
	return &device.Setup{
		Devices: map[string]*device.Device{
			"awg0": {UID: "awg0", Class: device.ClassDriveAWG},
			"ro0":  {UID: "ro0", Class: device.ClassReadout},
			"cm0":  {UID: "cm0", Class: device.ClassCombo},
			"hub":  {UID: "hub", Class: device.ClassHub},
		},
		Signals: map[string]*device.LogicalSignal{
			"awg0/out/0": {Path: "awg0/out/0", Device: "awg0", Port: 0, Kind: device.KindIQ},
			"ro0/in/0":   {Path: "ro0/in/0", Device: "ro0", Port: 0, Kind: device.KindAcquire},
			"cm0/out/0":  {Path: "cm0/out/0", Device: "cm0", Port: 0, Kind: device.KindIQ},
			"cm0/in/0":   {Path: "cm0/in/0", Device: "cm0", Port: 0, Kind: device.KindAcquire},
		},
		Hub: "hub",
	}
}

var testSignalMap = map[string]string{
	"q0_drive":   "awg0/out/0",
	"q0_acquire": "ro0/in/0",
	"c_drive":    "cm0/out/0",
	"c_acquire":  "cm0/in/0",
}

// resolve builds and resolves an experiment, failing the test on any error.
func resolve(t *testing.T, build func(b *exp.Builder), signals ...string) *resolver.Resolved {
	t.Helper()
	b := exp.NewBuilder("sched-test", signals...)
	build(b)
	e, diags := b.Finalize()
	if diags.HasErrors() {
		t.Fatalf("building fixture: %s", diags.Error())
	}
	res, diags := resolver.Resolve(e, testSetup(), testSignalMap, nil)
	if diags.HasErrors() {
		t.Fatalf("resolving fixture: %s", diags.Error())
	}
	return res
}

func scheduleOK(t *testing.T, res *resolver.Resolved, opts Options) (*Schedule, diagnostics.List) {
	t.Helper()
	sched, diags := Build(res, opts)
	if diags.HasErrors() {
		t.Fatalf("unexpected scheduling errors: %s", diags.Error())
	}
	return sched, diags
}

func scheduleErr(t *testing.T, res *resolver.Resolved, opts Options, code diagnostics.Code) {
	t.Helper()
	_, diags := Build(res, opts)
	for _, d := range diags.Errors() {
		if d.Code == code {
			return
		}
	}
	t.Fatalf("expected error %s, got: %s", code, diags.Error())
}

func findNode(t *testing.T, root *Node, uid string) *Node {
	t.Helper()
	var found *Node
	root.Walk(func(n *Node) bool {
		if n.UID == uid {
			found = n
		}
		return found == nil
	})
	if found == nil {
		t.Fatalf("node %q not in schedule", uid)
	}
	return found
}

const drivePulse40ns = 144000 // 96 samples x 1500 ticks

func TestSingleSectionTiming(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s"}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			End()
	}, "q0_drive", "q0_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	s := findNode(t, sched.Root, "s")
	if s.Length() != drivePulse40ns {
		t.Errorf("section length: got=%d, want=%d", s.Length(), drivePulse40ns)
	}
	play := s.Children[0]
	if play.Start != 0 || play.End != drivePulse40ns {
		t.Errorf("play window: got=[%d,%d), want=[0,%d)", play.Start, play.End, drivePulse40ns)
	}
	if play.Device != "awg0" {
		t.Errorf("play device: got=%s, want=awg0", play.Device)
	}
	// lcm of the awg0 and ro0 grids; cm0 sits in the setup but resolves no
	// signal of this experiment.
	if sched.SystemGrid != 48000 {
		t.Errorf("system grid: got=%d, want=48000", sched.SystemGrid)
	}
}

func TestSystemGridFollowsResolvedDevices(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s"}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			End()
	}, "q0_drive")
	sched, _ := scheduleOK(t, res, Options{})
	if sched.SystemGrid != 24000 {
		t.Errorf("drive-only grid: got=%d, want=24000", sched.SystemGrid)
	}

	res = resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s"}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			Play("c_drive", pulse.Const("p2", 40e-9, 1), nil).
			End()
	}, "q0_drive", "c_drive")
	sched, _ = scheduleOK(t, res, Options{})
	if sched.SystemGrid != 144000 {
		t.Errorf("drive-plus-combo grid: got=%d, want=144000", sched.SystemGrid)
	}
}

func TestPerSignalSequencing(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s"}).
			Play("q0_drive", pulse.Const("p1", 40e-9, 1), nil).
			Play("q0_drive", pulse.Const("p2", 40e-9, 1), nil).
			End()
	}, "q0_drive")

	sched, _ := scheduleOK(t, res, Options{})
	s := findNode(t, sched.Root, "s")
	first, second := s.Children[0], s.Children[1]
	if second.Start != first.End {
		t.Errorf("second play start: got=%d, want=%d", second.Start, first.End)
	}
	if s.Length() != 2*drivePulse40ns {
		t.Errorf("section length: got=%d, want=%d", s.Length(), 2*drivePulse40ns)
	}
}

func TestMixedDeviceSectionGrid(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s"}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End()
	}, "q0_drive", "q0_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	s := findNode(t, sched.Root, "s")
	// Acquire: 180 samples rounded to 184, 368000 ticks; section grid is
	// lcm(24000, 16000) = 48000, so the body rounds up to 384000.
	if s.Length() != 384000 {
		t.Errorf("section length: got=%d, want=384000", s.Length())
	}
}

func TestRightAlignmentShiftsChildren(t *testing.T) {
	length := 100e-9 // 360000 ticks, a multiple of the drive grid
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s", Alignment: exp.AlignRight, Length: &length}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			End()
	}, "q0_drive")

	sched, _ := scheduleOK(t, res, Options{})
	s := findNode(t, sched.Root, "s")
	play := s.Children[0]
	if s.Length() != 360000 {
		t.Fatalf("section length: got=%d, want=360000", s.Length())
	}
	if play.End != s.End {
		t.Errorf("right-aligned play end: got=%d, want=%d", play.End, s.End)
	}
	if play.Start != s.End-drivePulse40ns {
		t.Errorf("right-aligned play start: got=%d, want=%d", play.Start, s.End-drivePulse40ns)
	}
}

func TestExplicitLengthOffGrid(t *testing.T) {
	length := 10e-9 // 36000 ticks, not a multiple of 24000
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s", Length: &length}).
			Play("q0_drive", pulse.Const("p", 4e-9, 1), nil).
			End()
	}, "q0_drive")
	scheduleErr(t, res, Options{}, diagnostics.ErrT202)
}

func TestPlayAfterOrdersSections(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "root"}).
			Section(exp.SectionOptions{UID: "a"}).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), nil).
			End().
			Section(exp.SectionOptions{UID: "b", PlayAfter: []string{"a"}}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			End()
	}, "q0_drive", "q0_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	a := findNode(t, sched.Root, "a")
	bn := findNode(t, sched.Root, "b")
	if bn.Start != a.End {
		t.Errorf("play-after start: got=%d, want=%d", bn.Start, a.End)
	}
	// The constraint couples awg0 and ro0, so a sync marker is allocated.
	found := false
	for _, m := range sched.Markers {
		if m.From == "awg0" && m.To == "ro0" {
			found = true
		}
	}
	if !found {
		t.Error("cross-device play-after did not allocate a marker")
	}
}

func TestOnSystemGridEscalation(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Section(exp.SectionOptions{UID: "s", OnSystemGrid: true}).
			Play("q0_drive", pulse.Const("p", 20e-9, 1), nil).
			End()
	}, "q0_drive", "q0_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	s := findNode(t, sched.Root, "s")
	// The 20 ns play occupies 72000 ticks; the system grid of 48000 pushes
	// the section to 96000.
	if s.Grid != 48000 {
		t.Errorf("section grid: got=%d, want=48000", s.Grid)
	}
	if s.Length() != 96000 {
		t.Errorf("section length: got=%d, want=96000", s.Length())
	}
}

func TestNearTimeSweep(t *testing.T) {
	amp := exp.ListParameter("amp", []float64{0.1, 0.2, 0.3})
	res := resolve(t, func(b *exp.Builder) {
		v := exp.Swept(amp)
		b.Sweep("sw", amp).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), &exp.PlayOptions{Amplitude: &v}).
			End()
	}, "q0_drive")

	sched, _ := scheduleOK(t, res, Options{})
	if sched.NTSteps != 3 {
		t.Errorf("near-time steps: got=%d, want=3", sched.NTSteps)
	}
	if len(sched.NTDims) != 1 || sched.NTDims[0] != 3 {
		t.Errorf("near-time dims: got=%v, want=[3]", sched.NTDims)
	}
	if sched.RT != nil {
		t.Error("no real-time loop declared, RT info should be nil")
	}

	sw := findNode(t, sched.Root, "sw")
	if sw.RTCompiled {
		t.Error("a near-time sweep must not compile to a hardware loop")
	}
	for i, iter := range sw.Children {
		if iter.NTStep != i {
			t.Errorf("iteration %d near-time step: got=%d, want=%d", i, iter.NTStep, i)
		}
		if iter.Shadow {
			t.Errorf("iteration %d marked shadow", i)
		}
		if i > 0 && iter.Start != sw.Children[i-1].End {
			t.Errorf("iteration %d start: got=%d, want=%d", i, iter.Start, sw.Children[i-1].End)
		}
		if len(iter.ParamValues) != 1 || iter.ParamValues[0].Value != amp.Values[i] {
			t.Errorf("iteration %d parameter values: got=%v", i, iter.ParamValues)
		}
	}
}

func TestRealTimeSweepCompiled(t *testing.T) {
	amp := exp.ListParameter("amp", []float64{0.1, 0.2, 0.3})
	res := resolve(t, func(b *exp.Builder) {
		v := exp.Swept(amp)
		b.AcquireLoopRt("shots", 2, exp.AverageSequential, exp.AcquireIntegration).
			Sweep("sw", amp).
			Play("q0_drive", pulse.Const("p", 40e-9, 1), &exp.PlayOptions{Amplitude: &v}).
			End().
			End()
	}, "q0_drive")

	sched, _ := scheduleOK(t, res, Options{})
	if sched.RT == nil {
		t.Fatal("RT info missing")
	}
	if sched.RT.Count != 2 {
		t.Errorf("rt count: got=%d, want=2", sched.RT.Count)
	}
	if len(sched.RT.SweepDims) != 1 || sched.RT.SweepDims[0] != 3 {
		t.Errorf("rt sweep dims: got=%v, want=[3]", sched.RT.SweepDims)
	}
	if sched.NTSteps != 1 {
		t.Errorf("near-time steps: got=%d, want=1", sched.NTSteps)
	}

	sw := findNode(t, sched.Root, "sw")
	if !sw.RTCompiled {
		t.Fatal("equal-length capable sweep should compile to a hardware loop")
	}
	for i, iter := range sw.Children {
		if want := i > 0; iter.Shadow != want {
			t.Errorf("iteration %d shadow: got=%t, want=%t", i, iter.Shadow, want)
		}
		if iter.RepeatCount != 2 {
			t.Errorf("iteration %d sequential repeat: got=%d, want=2", i, iter.RepeatCount)
		}
		if iter.NTStep != -1 {
			t.Errorf("iteration %d near-time step: got=%d, want=-1", i, iter.NTStep)
		}
	}
}

// feedbackLoop declares acquire-then-match on the global path with both
// discrimination states covered.
func feedbackLoop(delay float64) func(b *exp.Builder) {
	return func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			Match("m", "h", delay).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			Case(1).Delay("q0_drive", exp.Fixed(40e-9)).End().
			End().
			End()
	}
}

func TestGlobalFeedbackClamp(t *testing.T) {
	// 50 ns declared, 400 ns global floor: clamped with a warning.
	res := resolve(t, feedbackLoop(50e-9), "q0_drive", "q0_acquire")
	sched, diags := scheduleOK(t, res, Options{})

	clamped := false
	for _, d := range diags.Warnings() {
		if d.Code == diagnostics.WarnF451 {
			clamped = true
		}
	}
	if !clamped {
		t.Error("expected a clamp warning")
	}

	meas := findNode(t, sched.Root, "meas")
	m := findNode(t, sched.Root, "m")
	if !m.FeedbackGlobal {
		t.Error("awg0 branch on ro0 data should classify as global")
	}
	// Acquire ends at 368000; the global floor adds 400 ns = 1440000 ticks
	// and the branch point rounds up to the 48000-tick match grid.
	if meas.End != 368000 {
		t.Fatalf("acquire section end: got=%d, want=368000", meas.End)
	}
	if m.Start != 1824000 {
		t.Errorf("match start: got=%d, want=1824000", m.Start)
	}
	if m.EvaluatedDelay != 1456000 {
		t.Errorf("evaluated delay: got=%d, want=1456000", m.EvaluatedDelay)
	}
	if m.EvaluatedDelay < 1440000 {
		t.Errorf("evaluated delay %d below the global floor", m.EvaluatedDelay)
	}
	for _, c := range m.Children {
		if c.Start != m.Start || c.End != m.End {
			t.Errorf("case %q window: got=[%d,%d), want the match window [%d,%d)",
				c.UID, c.Start, c.End, m.Start, m.End)
		}
	}

	// Entry barrier from the hub plus the feedback broadcast from ro0.
	var entry, fb bool
	for _, mk := range sched.Markers {
		if mk.From == "hub" && mk.To == "*" && mk.Handle == "" {
			entry = true
		}
		if mk.From == "ro0" && mk.To == "*" && mk.Handle == "h" {
			fb = true
		}
	}
	if !entry {
		t.Error("missing loop entry marker from the hub")
	}
	if !fb {
		t.Error("missing feedback broadcast marker from the acquiring device")
	}
}

func TestStrictFeedbackRejectsUnderDeclaredDelay(t *testing.T) {
	res := resolve(t, feedbackLoop(50e-9), "q0_drive", "q0_acquire")
	scheduleErr(t, res, Options{StrictFeedback: true}, diagnostics.ErrG301)
}

func TestStrictFeedbackAcceptsSufficientDelay(t *testing.T) {
	res := resolve(t, feedbackLoop(500e-9), "q0_drive", "q0_acquire")
	_, diags := scheduleOK(t, res, Options{StrictFeedback: true})
	for _, d := range diags.Warnings() {
		if d.Code == diagnostics.WarnF451 {
			t.Error("sufficient delay should not be clamped")
		}
	}
}

func TestLocalFeedbackPath(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("c_acquire", "h", nil, 100e-9).
			End().
			Match("m", "h", 0).
			Case(0).Play("c_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			Case(1).Delay("c_drive", exp.Fixed(40e-9)).End().
			End().
			End()
	}, "c_drive", "c_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	m := findNode(t, sched.Root, "m")
	if m.FeedbackGlobal {
		t.Error("same-unit feedback should classify as local")
	}
	// Acquire on the combo unit ends at 374400 ticks (208 samples x 1800);
	// the local floor adds 100 ns = 360000 ticks and the branch point
	// rounds up to the 28800-tick combo grid.
	if m.Start != 748800 {
		t.Errorf("match start: got=%d, want=748800", m.Start)
	}
}

func TestMatchAlignsToGridInsideOffsetSection(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			Section(exp.SectionOptions{UID: "pre"}).
			Play("q0_drive", pulse.Const("p", 20e-9, 1), nil).
			End().
			Section(exp.SectionOptions{UID: "wrap"}).
			Match("m", "h", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			Case(1).Delay("q0_drive", exp.Fixed(40e-9)).End().
			End().
			End().
			End()
	}, "q0_drive", "q0_acquire")

	sched, _ := scheduleOK(t, res, Options{})
	m := findNode(t, sched.Root, "m")
	// wrap's content starts at 72000 ticks, off the 48000-tick grid, so the
	// branch point must quantize in loop-pass ticks, not wrap-local ones:
	// 368000 acquire end + 1800000 declared delay rounds up to 2208000.
	if m.Start%sched.SystemGrid != 0 {
		t.Errorf("match start %d off the %d-tick grid", m.Start, sched.SystemGrid)
	}
	if m.Start != 2208000 {
		t.Errorf("match start: got=%d, want=2208000", m.Start)
	}
}

func TestMatchUnderRightAlignedSection(t *testing.T) {
	length := 2e-6
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			Section(exp.SectionOptions{UID: "tail", Alignment: exp.AlignRight, Length: &length}).
			Match("m", "h", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			Case(1).Delay("q0_drive", exp.Fixed(40e-9)).End().
			End().
			End().
			End()
	}, "q0_drive", "q0_acquire")
	scheduleErr(t, res, Options{}, diagnostics.ErrS006)
}

func TestMatchOutsideRTLoop(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.Match("m", "h", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			End()
	}, "q0_drive")
	scheduleErr(t, res, Options{}, diagnostics.ErrF403)
}

func TestMatchUnknownHandle(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Match("m", "nope", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			End().
			End()
	}, "q0_drive")
	scheduleErr(t, res, Options{}, diagnostics.ErrF402)
}

func TestCaseCoverage(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			Match("m", "h", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			End(). // state 1 of the two-state alphabet is uncovered
			End()
	}, "q0_drive", "q0_acquire")
	scheduleErr(t, res, Options{}, diagnostics.ErrF404)
}

func TestCaseLabelOutsideAlphabet(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("shots", 4, exp.AverageCyclic, exp.AcquireDiscrimination).
			Section(exp.SectionOptions{UID: "meas"}).
			Acquire("q0_acquire", "h", nil, 100e-9).
			End().
			Match("m", "h", 500e-9).
			Case(0).Play("q0_drive", pulse.Const("pi", 40e-9, 1), nil).End().
			Case(1).Delay("q0_drive", exp.Fixed(40e-9)).End().
			Case(7).Delay("q0_drive", exp.Fixed(40e-9)).End().
			End().
			End()
	}, "q0_drive", "q0_acquire")
	scheduleErr(t, res, Options{}, diagnostics.ErrF404)
}

func TestSchedulingIsDeterministic(t *testing.T) {
	build := feedbackLoop(500e-9)

	var markers [2][]Marker
	var ends [2]int64
	for run := 0; run < 2; run++ {
		res := resolve(t, build, "q0_drive", "q0_acquire")
		sched, _ := scheduleOK(t, res, Options{})
		markers[run] = sched.Markers
		ends[run] = sched.Root.End
	}

	if ends[0] != ends[1] {
		t.Errorf("total length differs across runs: %d vs %d", ends[0], ends[1])
	}
	if len(markers[0]) != len(markers[1]) {
		t.Fatalf("marker count differs: %d vs %d", len(markers[0]), len(markers[1]))
	}
	for i := range markers[0] {
		if markers[0][i] != markers[1][i] {
			t.Errorf("marker %d differs: %+v vs %+v", i, markers[0][i], markers[1][i])
		}
	}
}

func TestNestedRTLoopsRejected(t *testing.T) {
	res := resolve(t, func(b *exp.Builder) {
		b.AcquireLoopRt("outer", 4, exp.AverageCyclic, exp.AcquireIntegration).
			AcquireLoopRt("inner", 2, exp.AverageCyclic, exp.AcquireIntegration).
			End().
			End()
	}, "q0_drive")
	scheduleErr(t, res, Options{}, diagnostics.ErrG301)
}
