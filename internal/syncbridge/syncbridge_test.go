package syncbridge

import "testing"

func TestBackendSyncSkipsImplicitFenceExport(t *testing.T) {
	b := NewBridge(99, true)
	b.SetSyncObjects(1, 2)

	point, err := b.GetAcquireSyncObject()
	if err != nil {
		t.Fatalf("unexpected error with backend_sync=true: %v", err)
	}
	if point.Handle != 1 {
		t.Errorf("expected acquire handle 1, got %d", point.Handle)
	}
	if !point.Queried {
		t.Error("expected Queried to be set")
	}
}

func TestGetReleaseSyncObjectFailsAfterReleaseFileSet(t *testing.T) {
	b := NewBridge(99, true)
	b.SetSyncObjects(1, 2)
	b.releaseFileSet = true

	if _, err := b.GetReleaseSyncObject(); err == nil {
		t.Error("expected error when a release sync-file was already supplied")
	}
}

func TestQueriedBothDirectionsRequiresBoth(t *testing.T) {
	b := NewBridge(99, true)
	b.SetSyncObjects(1, 2)

	if b.QueriedBothDirections() {
		t.Error("expected false before either direction is queried")
	}

	if _, err := b.GetAcquireSyncObject(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.QueriedBothDirections() {
		t.Error("expected false with only acquire queried")
	}

	if _, err := b.GetReleaseSyncObject(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.QueriedBothDirections() {
		t.Error("expected true once both directions are queried")
	}
}

func TestAcquirePointUnchangedUnderBackendSync(t *testing.T) {
	b := NewBridge(99, true)
	b.SetSyncObjects(1, 2)

	before := b.acquire.Point
	if _, err := b.GetAcquireSyncObject(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// backend_sync=true doesn't advance the point (no implicit-fence
	// export happens); this asserts the no-op path leaves it unchanged
	// rather than silently incrementing.
	if b.acquire.Point != before {
		t.Errorf("expected acquire point unchanged under backend_sync, got %d", b.acquire.Point)
	}
}
