package transport

import "testing"

func TestStubBackendDequeueAndQueue(t *testing.T) {
	s := NewStubBackend()
	h := s.AddBuffer()

	got, ok, err := s.Dequeue()
	if err != nil || !ok || got != h {
		t.Fatalf("expected to dequeue handle %v, got %v ok=%v err=%v", h, got, ok, err)
	}

	if _, ok, _ := s.Dequeue(); ok {
		t.Error("expected pool to be empty after dequeuing its only buffer")
	}

	if err := s.Queue(got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.QueuedCount() != 1 {
		t.Errorf("expected 1 queued buffer, got %d", s.QueuedCount())
	}

	got2, ok, err := s.Dequeue()
	if err != nil || !ok || got2 != h {
		t.Errorf("expected queued buffer to recycle back to the free pool, got %v ok=%v err=%v", got2, ok, err)
	}
}

func TestStubBackendSetActive(t *testing.T) {
	s := NewStubBackend()
	if err := s.SetActive(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.active {
		t.Error("expected active=true")
	}
}
