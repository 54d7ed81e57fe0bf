package device

import (
	"testing"

	"go.uber.org/zap"
)

func TestAcquireBuffers(t *testing.T) {
	q := newFakeQueue(2)
	slots, err := acquireBuffers(q, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(slots))
	}
	for i, slot := range slots {
		if len(slot) != int(q.slotLength) {
			t.Errorf("slot %d size = %d, want %d", i, len(slot), q.slotLength)
		}
	}
}

func TestAcquireBuffersShrinks(t *testing.T) {
	q := newFakeQueue(1)
	slots, err := acquireBuffers(q, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("slots = %d, want the granted 1", len(slots))
	}
}

func TestAcquireBuffersInitFailure(t *testing.T) {
	q := newFakeQueue(2)
	q.initErr = errFake
	if _, err := acquireBuffers(q, 2, zap.NewNop()); err == nil {
		t.Fatal("acquire must fail when the buffer request fails")
	}
	if q.mapped != 0 || q.released != 0 {
		t.Errorf("no partial state expected: mapped %d released %d", q.mapped, q.released)
	}
}

func TestAcquireBuffersMapFailureRollsBack(t *testing.T) {
	q := newFakeQueue(4)
	q.mapErrAt = 2 // third map fails

	if _, err := acquireBuffers(q, 4, zap.NewNop()); err == nil {
		t.Fatal("acquire must fail when a map fails")
	}
	if q.unmapped != 2 {
		t.Errorf("unmapped = %d, want the 2 prior maps undone", q.unmapped)
	}
	if q.released != 1 {
		t.Errorf("released = %d, want the kernel request dropped", q.released)
	}
}

func TestAcquireBuffersQueryFailureRollsBack(t *testing.T) {
	q := newFakeQueue(2)
	q.queryErr = errFake

	if _, err := acquireBuffers(q, 2, zap.NewNop()); err == nil {
		t.Fatal("acquire must fail when a query fails")
	}
	if q.released != 1 {
		t.Errorf("released = %d, want 1", q.released)
	}
}

func TestReleaseBuffers(t *testing.T) {
	q := newFakeQueue(2)
	slots, err := acquireBuffers(q, 2, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if err := releaseBuffers(q, slots, zap.NewNop()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if q.unmapped != 2 {
		t.Errorf("unmapped = %d, want 2", q.unmapped)
	}
	if q.released != 1 {
		t.Errorf("released = %d, want 1", q.released)
	}
	for i, slot := range slots {
		if slot != nil {
			t.Errorf("slot %d still mapped after release", i)
		}
	}
}
