package funnel

import "testing"

func TestStreamConfigDefaults(t *testing.T) {
	c := NewStreamConfig()
	if def, min, max := c.BufferCountTriple(); def != AsyncDefaultBuffers || min != AsyncMinBuffers || max != AsyncMaxBuffers {
		t.Errorf("default triple = %d,%d,%d; want %d,%d,%d", def, min, max, AsyncDefaultBuffers, AsyncMinBuffers, AsyncMaxBuffers)
	}
}

func TestStreamConfigSetSizeRejectsZero(t *testing.T) {
	c := NewStreamConfig()
	err := c.SetSize(0, 480)
	if err == nil {
		t.Fatal("expected error for zero width")
	}
	if !IsCode(err, ErrCodeInvalidArgument) {
		t.Errorf("expected ErrCodeInvalidArgument, got %v", err)
	}

	if err := c.SetSize(1920, 1080); err != nil {
		t.Errorf("unexpected error for valid size: %v", err)
	}
}

func TestStreamConfigSetRateRejectsZeroDenominator(t *testing.T) {
	c := NewStreamConfig()
	err := c.SetRate(Fraction{Num: 30, Den: 0}, Fraction{Num: 1, Den: 1}, Fraction{Num: 60, Den: 1})
	if err == nil {
		t.Fatal("expected error for zero denominator")
	}
	if !IsCode(err, ErrCodeInvalidArgument) {
		t.Errorf("expected ErrCodeInvalidArgument, got %v", err)
	}
}

func TestStreamConfigAddFormatRejectsEmptyModifiers(t *testing.T) {
	c := NewStreamConfig()
	err := c.AddFormat(FourccXRGB8888, nil)
	if err == nil {
		t.Fatal("expected error for empty modifier list")
	}
	if !IsCode(err, ErrCodeInvalidArgument) {
		t.Errorf("expected ErrCodeInvalidArgument, got %v", err)
	}
}

func TestStreamConfigAddFormatRejectsUnknownFourcc(t *testing.T) {
	c := NewStreamConfig()
	err := c.AddFormat(Fourcc(0xdeadbeef), []Modifier{ModifierLinear})
	if err == nil {
		t.Fatal("expected error for unknown fourcc")
	}
	if !IsCode(err, ErrCodeNotSupported) {
		t.Errorf("expected ErrCodeNotSupported, got %v", err)
	}
}

func TestStreamConfigAddFormatTracksNonlinearTiling(t *testing.T) {
	c := NewStreamConfig()
	if err := c.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.HasNonlinearTiling() {
		t.Error("linear-only modifiers should not set HasNonlinearTiling")
	}

	if err := c.AddFormat(FourccXBGR8888, []Modifier{0x0100000000000001}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HasNonlinearTiling() {
		t.Error("expected HasNonlinearTiling after a non-linear modifier")
	}
}

func TestStreamConfigClearFormats(t *testing.T) {
	c := NewStreamConfig()
	_ = c.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear})
	c.ClearFormats()
	if c.HasNonlinearTiling() {
		t.Error("expected HasNonlinearTiling to stay false with no entries")
	}
}

func TestStreamConfigClearFormatsResetsNonlinearTiling(t *testing.T) {
	c := NewStreamConfig()
	_ = c.AddFormat(FourccXRGB8888, []Modifier{Modifier(1)})
	if !c.HasNonlinearTiling() {
		t.Fatal("expected HasNonlinearTiling after adding a non-linear modifier")
	}

	c.ClearFormats()
	if c.HasNonlinearTiling() {
		t.Error("expected ClearFormats to reset HasNonlinearTiling")
	}

	_ = c.AddFormat(FourccXRGB8888, []Modifier{ModifierLinear})
	if c.HasNonlinearTiling() {
		t.Error("expected a linear-only registry after clear to report HasNonlinearTiling false")
	}
}

func TestStreamConfigSetSyncUnsupportedOperation(t *testing.T) {
	c := NewStreamConfig()
	c.SetExplicitSyncCapability(false, false)

	err := c.SetSync(SyncExplicitHybrid)
	if err == nil {
		t.Fatal("expected error for hybrid sync without backend support")
	}
	if !IsCode(err, ErrCodeUnsupportedOperation) {
		t.Errorf("expected ErrCodeUnsupportedOperation, got %v", err)
	}
}

func TestStreamConfigSetSyncEitherDowngrades(t *testing.T) {
	c := NewStreamConfig()
	c.SetExplicitSyncCapability(false, false)

	if err := c.SetSync(SyncEither); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStreamConfigSetBuffersValidation(t *testing.T) {
	c := NewStreamConfig()
	if err := c.SetBuffers(6, 5, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def, min, max := c.BufferCountTriple(); def != 6 || min != 5 || max != 10 {
		t.Errorf("overridden triple = %d,%d,%d; want 6,5,10", def, min, max)
	}

	err := c.SetBuffers(9, 4, 8)
	if err == nil {
		t.Fatal("expected error for def > max")
	}
	if !IsCode(err, ErrCodeInvalidArgument) {
		t.Errorf("expected ErrCodeInvalidArgument, got %v", err)
	}
}

func TestStreamConfigSetModeRederivesDefaultTriple(t *testing.T) {
	c := NewStreamConfig()
	c.SetMode(ModeSynchronous)
	if def, min, max := c.BufferCountTriple(); def != SingleDefaultBuffers || min != SingleMinBuffers || max != SingleMaxBuffers {
		t.Errorf("SYNCHRONOUS triple = %d,%d,%d; want %d,%d,%d", def, min, max, SingleDefaultBuffers, SingleMinBuffers, SingleMaxBuffers)
	}
}
