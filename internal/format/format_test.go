package format

import "testing"

func TestWireFormatTableRoundTrip(t *testing.T) {
	fourccs := []Fourcc{
		FourccRGBA8888, FourccRGBX8888, FourccBGRA8888, FourccBGRX8888,
		FourccARGB8888, FourccXRGB8888, FourccABGR8888, FourccXBGR8888,
	}

	seen := map[WireFormat]bool{}
	for _, fc := range fourccs {
		wire, ok := WireFormatFor(fc)
		if !ok {
			t.Fatalf("fourcc %#x not found in table", uint32(fc))
		}
		if seen[wire] {
			t.Fatalf("wire format %v assigned to more than one fourcc", wire)
		}
		seen[wire] = true

		back, ok := FourccFor(wire)
		if !ok || back != fc {
			t.Errorf("FourccFor(%v) = %#x, %v; want %#x, true", wire, uint32(back), ok, uint32(fc))
		}
	}
}

func TestWireFormatForUnknown(t *testing.T) {
	if _, ok := WireFormatFor(Fourcc(0xdeadbeef)); ok {
		t.Error("expected unknown fourcc to report ok=false")
	}
}

func TestAddFormatRejectsUnknownFourcc(t *testing.T) {
	r := New()
	if err := r.AddFormat(Fourcc(0xdeadbeef), []Modifier{ModifierLinear}); err == nil {
		t.Error("expected error for unsupported fourcc")
	}
}

func TestAddFormatRejectsEmptyModifiers(t *testing.T) {
	r := New()
	if err := r.AddFormat(FourccXRGB8888, nil); err == nil {
		t.Error("expected error for empty modifier list")
	}
}

func TestAddFormatTracksNonlinearTiling(t *testing.T) {
	r := New()
	if err := r.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasNonlinearTiling {
		t.Error("linear-only modifiers should not set HasNonlinearTiling")
	}

	if err := r.AddFormat(FourccXBGR8888, []Modifier{0x0100000000000001}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.HasNonlinearTiling {
		t.Error("expected HasNonlinearTiling after a non-linear modifier")
	}
}

func TestSetSizeRejectsZero(t *testing.T) {
	r := New()
	if err := r.SetSize(0, 480); err == nil {
		t.Error("expected error for zero width")
	}
	if err := r.SetSize(640, 0); err == nil {
		t.Error("expected error for zero height")
	}
	if err := r.SetSize(640, 480); err != nil {
		t.Errorf("unexpected error for valid size: %v", err)
	}
	if !r.Pending {
		t.Error("expected Pending after a successful SetSize")
	}
}

func TestSetSyncPolicyTable(t *testing.T) {
	cases := []struct {
		name              string
		requested         SyncMode
		explicitSupported bool
		explicitRequired  bool
		wantErr           bool
		wantMode          SyncMode
	}{
		{"implicit ok", SyncImplicit, false, false, false, SyncImplicit},
		{"implicit fails when explicit required", SyncImplicit, true, true, true, SyncImplicit},
		{"either downgrades without backend support", SyncEither, false, false, false, SyncImplicit},
		{"either stays either with backend support", SyncEither, true, false, false, SyncEither},
		{"hybrid fails without backend support", SyncExplicitHybrid, false, false, true, SyncExplicitHybrid},
		{"hybrid ok with backend support", SyncExplicitHybrid, true, false, false, SyncExplicitHybrid},
		{"explicit-only fails without backend support", SyncExplicitOnly, false, false, true, SyncExplicitOnly},
		{"explicit-only not yet implemented with support", SyncExplicitOnly, true, false, true, SyncExplicitOnly},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			r.ExplicitSyncSupported = tc.explicitSupported
			r.ExplicitSyncRequired = tc.explicitRequired

			err := r.SetSync(tc.requested)
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if r.Sync != tc.wantMode {
					t.Errorf("expected Sync=%v, got %v", tc.wantMode, r.Sync)
				}
			}
		})
	}
}

func TestBufferCountTriple(t *testing.T) {
	r := New()
	r.SetMode(ModeAsync)
	if def, min, max := r.BufferCountTriple(); def != 5 || min != 4 || max != 8 {
		t.Errorf("ASYNC triple = %d,%d,%d; want 5,4,8", def, min, max)
	}

	r.SetMode(ModeSynchronous)
	if def, min, max := r.BufferCountTriple(); def != 4 || min != 3 || max != 8 {
		t.Errorf("SYNCHRONOUS triple = %d,%d,%d; want 4,3,8", def, min, max)
	}
}

func TestClearFormats(t *testing.T) {
	r := New()
	_ = r.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear})
	r.ClearFormats()
	if len(r.Entries) != 0 {
		t.Error("expected Entries to be empty after ClearFormats")
	}
}

func TestClearFormatsResetsHasNonlinearTiling(t *testing.T) {
	r := New()
	_ = r.AddFormat(FourccXRGB8888, []Modifier{Modifier(1)})
	if !r.HasNonlinearTiling {
		t.Fatal("expected HasNonlinearTiling after a non-linear modifier")
	}

	r.ClearFormats()
	if r.HasNonlinearTiling {
		t.Error("expected ClearFormats to reset HasNonlinearTiling")
	}

	_ = r.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear})
	if r.HasNonlinearTiling {
		t.Error("expected has_nonlinear_tiling <=> exists a non-linear modifier across current entries")
	}
}

func TestSetBuffersOverridesModeDefault(t *testing.T) {
	r := New()
	r.SetMode(ModeAsync)

	if err := r.SetBuffers(6, 5, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def, min, max := r.BufferCountTriple(); def != 6 || min != 5 || max != 10 {
		t.Errorf("overridden triple = %d,%d,%d; want 6,5,10", def, min, max)
	}
}

func TestSetBuffersRejectsInvalidOrdering(t *testing.T) {
	r := New()
	cases := [][3]int{
		{0, 0, 8},  // min < 1
		{5, 6, 8},  // min > def
		{9, 4, 8},  // def > max
	}
	for _, c := range cases {
		if err := r.SetBuffers(c[0], c[1], c[2]); err == nil {
			t.Errorf("SetBuffers(%d,%d,%d) expected error, got nil", c[0], c[1], c[2])
		}
	}
}
