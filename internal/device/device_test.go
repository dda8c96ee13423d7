package device

import "testing"

func testSetup() *Setup {
	return &Setup{
		Devices: map[string]*Device{
			"awg0": {UID: "awg0", Class: ClassDriveAWG},
			"ro0":  {UID: "ro0", Class: ClassReadout},
			"hub":  {UID: "hub", Class: ClassHub},
		},
		Signals: map[string]*LogicalSignal{
			"q0/drive":   {Path: "q0/drive", Device: "awg0", Port: 0, Kind: KindIQ},
			"q0/acquire": {Path: "q0/acquire", Device: "ro0", Port: 0, Kind: KindAcquire},
		},
		Hub: "hub",
	}
}

func TestGridTicks(t *testing.T) {
	cases := []struct {
		class Class
		want  int64
	}{
		{ClassDriveAWG, 24000}, // 16 samples x 1500 ticks
		{ClassReadout, 16000},  // 8 samples x 2000 ticks
		{ClassCombo, 28800},    // 16 samples x 1800 ticks
	}
	for _, c := range cases {
		caps, ok := ClassCapabilities(c.class)
		if !ok {
			t.Fatalf("unknown class %s", c.class)
		}
		if got := caps.GridTicks(); got != c.want {
			t.Errorf("%s grid: got=%d, want=%d", c.class, got, c.want)
		}
	}
}

func TestSystemGridIsLCMOfDeviceGrids(t *testing.T) {
	s := testSetup()
	// lcm(24000, 16000); the hub does not participate.
	if got := s.SystemGridTicks(); got != 48000 {
		t.Errorf("system grid: got=%d, want=48000", got)
	}
}

func TestSystemGridSingleDevice(t *testing.T) {
	s := &Setup{
		Devices: map[string]*Device{"awg0": {UID: "awg0", Class: ClassDriveAWG}},
		Signals: map[string]*LogicalSignal{},
	}
	if got := s.SystemGridTicks(); got != 24000 {
		t.Errorf("system grid: got=%d, want=24000", got)
	}
}

func TestValidateOK(t *testing.T) {
	if err := testSetup().Validate(); err != nil {
		t.Fatalf("valid setup rejected: %s", err)
	}
}

func TestValidateUnknownDevice(t *testing.T) {
	s := testSetup()
	s.Signals["q1/drive"] = &LogicalSignal{Path: "q1/drive", Device: "nope", Kind: KindIQ}
	if err := s.Validate(); err == nil {
		t.Error("expected error for signal on unknown device")
	}
}

func TestValidateUnknownClass(t *testing.T) {
	s := testSetup()
	s.Devices["awg0"].Class = "toaster"
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown device class")
	}
}

func TestValidateBadHub(t *testing.T) {
	s := testSetup()
	s.Hub = "awg0"
	if err := s.Validate(); err == nil {
		t.Error("expected error for non-hub device declared as hub")
	}

	s = testSetup()
	s.Hub = "missing"
	if err := s.Validate(); err == nil {
		t.Error("expected error for hub absent from the setup")
	}
}

func TestValidateMismatchedSignalKey(t *testing.T) {
	s := testSetup()
	s.Signals["wrong/key"] = &LogicalSignal{Path: "q0/drive", Device: "awg0", Kind: KindIQ}
	if err := s.Validate(); err == nil {
		t.Error("expected error for map key disagreeing with signal path")
	}
}

func TestDeviceUIDsSorted(t *testing.T) {
	s := testSetup()
	uids := s.DeviceUIDs()
	want := []string{"awg0", "hub", "ro0"}
	if len(uids) != len(want) {
		t.Fatalf("uid count: got=%d, want=%d", len(uids), len(want))
	}
	for i := range want {
		if uids[i] != want[i] {
			t.Errorf("uid %d: got=%s, want=%s", i, uids[i], want[i])
		}
	}
}
