package artifact

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantumctl/pulsec/internal/codegen"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/exp"
)

func testArtifact() *CompiledExperiment {
	return &CompiledExperiment{
		ExperimentUID: "rabi",
		Programs: []*codegen.Program{
			{
				Device:       "awg0",
				Class:        device.ClassDriveAWG,
				SampleRateHz: 2.4e9,
				Code:         []byte{byte(codegen.OpPlayWave), 0, 0, byte(codegen.OpEnd)},
				Waveforms: []codegen.WaveformEntry{
					{Name: "w0_abc1234", Signature: "abc1234", Signal: "q0_drive", SamplesI: []float64{0.5, 0.5}, SamplesQ: []float64{0, 0}},
				},
			},
			{
				Device:       "ro0",
				Class:        device.ClassReadout,
				SampleRateHz: 1.8e9,
				Code:         []byte{byte(codegen.OpAcquire), 0, 0, 184, 0, 0, 0, byte(codegen.OpEnd)},
				Handles:      []string{"h"},
			},
		},
		Shape: ResultShape{
			SweepDims:     []int{3},
			AverageCount:  4,
			Averaging:     exp.AverageCyclic,
			Acquisition:   exp.AcquireIntegration,
			Handles:       []string{"h"},
			HandleSignals: []HandleSignal{{Handle: "h", Signal: "q0_acquire"}},
		},
		SystemGrid: 48000,
		NTSteps:    1,
		TotalTicks: 432000,
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	art := testArtifact()
	data, err := art.Serialize()
	if err != nil {
		t.Fatalf("serialize: %s", err)
	}
	if string(data[:4]) != "PLSC" {
		t.Errorf("frame magic: got=%q, want=PLSC", data[:4])
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %s", err)
	}
	if restored.ExperimentUID != art.ExperimentUID {
		t.Errorf("uid: got=%s, want=%s", restored.ExperimentUID, art.ExperimentUID)
	}
	if len(restored.Programs) != len(art.Programs) {
		t.Fatalf("program count: got=%d, want=%d", len(restored.Programs), len(art.Programs))
	}
	awg := restored.ProgramFor("awg0")
	if awg == nil {
		t.Fatal("awg0 program missing after round trip")
	}
	if len(awg.Code) != 4 || len(awg.Waveforms) != 1 {
		t.Errorf("awg0 program not restored: code=%d waveforms=%d", len(awg.Code), len(awg.Waveforms))
	}
	if restored.Shape.AverageCount != 4 || restored.Shape.SweepDims[0] != 3 {
		t.Errorf("shape not restored: %+v", restored.Shape)
	}
	if restored.TotalTicks != 432000 {
		t.Errorf("total ticks: got=%d, want=432000", restored.TotalTicks)
	}
}

func TestDeserializeRejectsBadFrames(t *testing.T) {
	art := testArtifact()
	data, err := art.Serialize()
	if err != nil {
		t.Fatalf("serialize: %s", err)
	}

	if _, err := Deserialize([]byte("PL")); err == nil {
		t.Error("expected error for truncated data")
	}

	bad := append([]byte{}, data...)
	bad[0] = 'X'
	if _, err := Deserialize(bad); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Errorf("expected magic error, got: %v", err)
	}

	bad = append([]byte{}, data...)
	bad[4] = 0x7f
	if _, err := Deserialize(bad); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected version error, got: %v", err)
	}
}

func TestHashStability(t *testing.T) {
	h1, err := testArtifact().Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	h2, err := testArtifact().Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	if h1 != h2 {
		t.Errorf("equal artifacts hash differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length: got=%d, want=64", len(h1))
	}

	other := testArtifact()
	other.Programs[0].Code[1] = 1
	h3, err := other.Hash()
	if err != nil {
		t.Fatalf("hash: %s", err)
	}
	if h3 == h1 {
		t.Error("different code hashes equally")
	}
}

func TestValidate(t *testing.T) {
	art := testArtifact()
	if err := art.Validate(); err != nil {
		t.Fatalf("valid artifact rejected: %s", err)
	}

	art = testArtifact()
	art.ExperimentUID = ""
	if err := art.Validate(); err == nil {
		t.Error("expected error for missing uid")
	}

	art = testArtifact()
	art.Programs = nil
	if err := art.Validate(); err == nil {
		t.Error("expected error for empty program list")
	}

	art = testArtifact()
	art.Programs[0].Code = nil
	if err := art.Validate(); err == nil {
		t.Error("expected error for empty device code")
	}

	art = testArtifact()
	art.Programs[0], art.Programs[1] = art.Programs[1], art.Programs[0]
	if err := art.Validate(); err == nil {
		t.Error("expected error for unsorted programs")
	}
}

func TestCachePutGet(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %s", err)
	}
	defer cache.Close()

	art := testArtifact()
	if err := cache.Put("input-hash-1", art); err != nil {
		t.Fatalf("put: %s", err)
	}

	got, err := cache.Get("input-hash-1")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if got == nil {
		t.Fatal("cache miss after put")
	}
	if got.ExperimentUID != "rabi" {
		t.Errorf("uid: got=%s, want=rabi", got.ExperimentUID)
	}

	miss, err := cache.Get("never-stored")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if miss != nil {
		t.Error("expected a miss for an unknown hash")
	}
}

func TestCacheReplacesEntries(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %s", err)
	}
	defer cache.Close()

	first := testArtifact()
	if err := cache.Put("k", first); err != nil {
		t.Fatalf("put: %s", err)
	}
	second := testArtifact()
	second.ExperimentUID = "ramsey"
	if err := cache.Put("k", second); err != nil {
		t.Fatalf("replace: %s", err)
	}

	got, err := cache.Get("k")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if got.ExperimentUID != "ramsey" {
		t.Errorf("uid after replace: got=%s, want=ramsey", got.ExperimentUID)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("open cache: %s", err)
	}
	if err := cache.Put("k", testArtifact()); err != nil {
		t.Fatalf("put: %s", err)
	}
	cache.Close()

	cache, err = OpenCache(path)
	if err != nil {
		t.Fatalf("reopen cache: %s", err)
	}
	defer cache.Close()
	got, err := cache.Get("k")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if got == nil {
		t.Error("entry lost across reopen")
	}
}
