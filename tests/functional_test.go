// Package tests runs experiment descriptors from tests/pulsec through the
// full compilation pipeline and checks the resulting artifacts.
package tests

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quantumctl/pulsec/internal/descriptor"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/scheduler"
	"github.com/quantumctl/pulsec/pkg/compiler"
)

func fixture(name string) string {
	return filepath.Join("pulsec", name)
}

func loadRequest(t *testing.T, expFile string) compiler.Request {
	t.Helper()

	setupCfg, err := descriptor.LoadSetup(fixture("setup.yaml"))
	if err != nil {
		t.Fatalf("loading setup: %s", err)
	}
	setup, err := setupCfg.Setup()
	if err != nil {
		t.Fatalf("converting setup: %s", err)
	}

	expCfg, err := descriptor.LoadExperiment(fixture(expFile))
	if err != nil {
		t.Fatalf("loading %s: %s", expFile, err)
	}
	params, err := expCfg.ParameterSet()
	if err != nil {
		t.Fatalf("parameters of %s: %s", expFile, err)
	}
	cal, err := setupCfg.CalibrationTable(params)
	if err != nil {
		t.Fatalf("calibration: %s", err)
	}
	e, diags, err := expCfg.Build()
	if err != nil {
		t.Fatalf("building %s: %s", expFile, err)
	}
	if diags.HasErrors() {
		t.Fatalf("building %s: %s", expFile, diags.Error())
	}

	return compiler.Request{
		Experiment:  e,
		Setup:       setup,
		SignalMap:   setupCfg.SignalMap,
		Calibration: cal,
	}
}

func compileFixture(t *testing.T, expFile string, opts compiler.Options) *compiler.Result {
	t.Helper()
	res, err := compiler.Compile(context.Background(), loadRequest(t, expFile), opts)
	if err != nil {
		t.Fatalf("compiling %s: %s", expFile, err)
	}
	return res
}

func findEvent(t *testing.T, events []scheduler.Event, typ scheduler.EventType) scheduler.Event {
	t.Helper()
	for _, ev := range events {
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event in manifest", typ)
	return scheduler.Event{}
}

func hasCode(diags diagnostics.List, code diagnostics.Code) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestRabiCompiles(t *testing.T) {
	res := compileFixture(t, "rabi.yaml", compiler.Options{})
	if res.Compiled == nil {
		t.Fatalf("compilation failed: %s", res.Diags.Error())
	}
	c := res.Compiled

	if c.ExperimentUID != "rabi" {
		t.Errorf("uid: got=%s, want=rabi", c.ExperimentUID)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("artifact validation: %s", err)
	}

	want := []string{"awg0", "hub", "ro0"}
	if len(c.Programs) != len(want) {
		t.Fatalf("programs: got=%d, want=%d", len(c.Programs), len(want))
	}
	for i, uid := range want {
		if c.Programs[i].Device != uid {
			t.Errorf("program %d: got=%s, want=%s", i, c.Programs[i].Device, uid)
		}
	}
	if c.SystemGrid != 48000 {
		t.Errorf("system grid: got=%d, want=48000", c.SystemGrid)
	}

	// The acquisition starts right after the 40 ns drive pulse ends.
	acq := findEvent(t, c.Manifest, scheduler.EventAcquireStart)
	if acq.Time != 144000 {
		t.Errorf("acquire start: got=%d ticks, want=144000", acq.Time)
	}
	if acq.Handle != "res" || acq.Device != "ro0" {
		t.Errorf("acquire event: handle=%s device=%s", acq.Handle, acq.Device)
	}

	if c.Shape.AverageCount != 4 || c.Shape.Averaging != exp.AverageCyclic {
		t.Errorf("shape: averages=%d mode=%d", c.Shape.AverageCount, c.Shape.Averaging)
	}
	if len(c.Shape.Handles) != 1 || c.Shape.Handles[0] != "res" {
		t.Errorf("shape handles: %v", c.Shape.Handles)
	}
	if c.TotalTicks != 528000 {
		t.Errorf("total ticks: got=%d, want=528000", c.TotalTicks)
	}
}

func TestAmplitudeSweepSequentialAveraging(t *testing.T) {
	res := compileFixture(t, "amp_sweep.yaml", compiler.Options{})
	if res.Compiled == nil {
		t.Fatalf("compilation failed: %s", res.Diags.Error())
	}
	c := res.Compiled

	if got := c.Shape.SweepDims; len(got) != 1 || got[0] != 3 {
		t.Errorf("sweep dims: %v", got)
	}
	if c.Shape.AverageCount != 2 || c.Shape.Averaging != exp.AverageSequential {
		t.Errorf("shape: averages=%d mode=%d", c.Shape.AverageCount, c.Shape.Averaging)
	}

	// Parameter values appear in sweep order; only the first iteration is
	// a live pass, the rest are compile-time shadows of the hardware loop.
	var values []float64
	var shadows []bool
	for _, ev := range c.Manifest {
		switch ev.Type {
		case scheduler.EventParameterSet:
			values = append(values, ev.Value)
		case scheduler.EventLoopStepStart:
			shadows = append(shadows, ev.Shadow)
		}
	}
	wantValues := []float64{0.1, 0.2, 0.3}
	if len(values) != len(wantValues) {
		t.Fatalf("parameter events: got=%d, want=%d", len(values), len(wantValues))
	}
	for i, v := range wantValues {
		if values[i] != v {
			t.Errorf("parameter value %d: got=%g, want=%g", i, values[i], v)
		}
	}
	wantShadows := []bool{false, true, true}
	if len(shadows) != len(wantShadows) {
		t.Fatalf("loop steps: got=%d, want=%d", len(shadows), len(wantShadows))
	}
	for i, s := range wantShadows {
		if shadows[i] != s {
			t.Errorf("iteration %d shadow: got=%v, want=%v", i, shadows[i], s)
		}
	}

	// The drive program carries the swept amplitudes as a parameter table
	// with one command-table row per sweep point.
	awg := c.ProgramFor("awg0")
	if awg == nil {
		t.Fatal("no program for awg0")
	}
	if len(awg.ParamTables) != 1 || awg.ParamTables[0].UID != "amp" {
		t.Fatalf("param tables: %v", awg.ParamTables)
	}
	if len(awg.CommandTable) != 3 {
		t.Errorf("command table rows: got=%d, want=3", len(awg.CommandTable))
	}
}

func TestFeedbackDelayClampedToGlobalFloor(t *testing.T) {
	res := compileFixture(t, "feedback.yaml", compiler.Options{})
	if res.Compiled == nil {
		t.Fatalf("compilation failed: %s", res.Diags.Error())
	}
	if !hasCode(res.Diags.Warnings(), diagnostics.WarnF451) {
		t.Errorf("expected a clamp warning, got: %s", res.Diags.Error())
	}

	c := res.Compiled
	match := findEvent(t, c.Manifest, scheduler.EventMatchStart)
	if match.Handle != "h" {
		t.Errorf("match handle: got=%s, want=h", match.Handle)
	}
	// The acquisition ends at 368000; the 50 ns declared delay is clamped
	// to the 400 ns global floor and the branch point lands on the next
	// shared grid point.
	if match.Time != 1824000 {
		t.Errorf("match start: got=%d ticks, want=1824000", match.Time)
	}

	if len(c.Feedback) != 1 {
		t.Fatalf("feedback resolutions: got=%d, want=1", len(c.Feedback))
	}
	fb := c.Feedback[0]
	if fb.MatchUID != "reset" || fb.Handle != "h" || !fb.Global {
		t.Errorf("resolution: %+v", fb)
	}
	if fb.FloorTicks != 1440000 {
		t.Errorf("floor: got=%d, want=1440000", fb.FloorTicks)
	}
	if fb.LatencyTicks != 1456000 {
		t.Errorf("latency: got=%d, want=1456000", fb.LatencyTicks)
	}
	if fb.MarkerID == "" {
		t.Error("global resolution has no marker id")
	}
}

func TestStrictFeedbackFailsCompilation(t *testing.T) {
	res := compileFixture(t, "feedback.yaml", compiler.Options{StrictFeedback: true})
	if res.Compiled != nil {
		t.Fatal("expected the compilation to fail")
	}
	if !hasCode(res.Diags.Errors(), diagnostics.ErrG301) {
		t.Errorf("diagnostics: %s", res.Diags.Error())
	}
}

func TestArtifactCacheRoundTrip(t *testing.T) {
	opts := compiler.Options{CachePath: filepath.Join(t.TempDir(), "cache.db")}

	first := compileFixture(t, "rabi.yaml", opts)
	if first.Compiled == nil {
		t.Fatalf("compilation failed: %s", first.Diags.Error())
	}
	if first.CacheHit {
		t.Fatal("first compilation reported a cache hit")
	}

	second := compileFixture(t, "rabi.yaml", opts)
	if !second.CacheHit {
		t.Fatal("second compilation missed the cache")
	}
	h1, err := first.Compiled.Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	h2, err := second.Compiled.Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	if h1 != h2 {
		t.Errorf("cached artifact differs: %s vs %s", h1, h2)
	}
}

func TestCompilationIsDeterministic(t *testing.T) {
	a := compileFixture(t, "amp_sweep.yaml", compiler.Options{})
	b := compileFixture(t, "amp_sweep.yaml", compiler.Options{})
	if a.Compiled == nil || b.Compiled == nil {
		t.Fatal("compilation failed")
	}
	ha, err := a.Compiled.Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	hb, err := b.Compiled.Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	if ha != hb {
		t.Errorf("hashes differ: %s vs %s", ha, hb)
	}
}
