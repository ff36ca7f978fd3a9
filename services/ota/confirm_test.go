package ota

import (
	"context"
	"testing"
	"time"

	"foxco2-go/errcode"
	"foxco2-go/types"
)

type stubWaiter struct {
	err   error
	calls int
}

func (w *stubWaiter) WaitReady(ctx context.Context, timeout time.Duration) error {
	w.calls++
	return w.err
}

func pendingSlots(t *testing.T) *BlockSlots {
	t.Helper()
	s, err := OpenBlockSlots(newMemFlash(9), quiet())
	if err != nil {
		t.Fatal(err)
	}
	writeImage(t, s, []byte("img"))
	return s
}

func TestConfirmBootMarksValid(t *testing.T) {
	s := pendingSlots(t)
	w := &stubWaiter{}
	if err := ConfirmBoot(context.Background(), s, w, time.Second, quiet()); err != nil {
		t.Fatal(err)
	}
	if _, st := s.Running(); st != types.SlotValid {
		t.Fatalf("state = %v, want valid", st)
	}
}

func TestConfirmBootLeavesPendingWhenOffline(t *testing.T) {
	s := pendingSlots(t)
	w := &stubWaiter{err: errcode.Timeout}
	if err := ConfirmBoot(context.Background(), s, w, time.Second, quiet()); err == nil {
		t.Fatal("expected error")
	}
	if _, st := s.Running(); st != types.SlotPendingVerify {
		t.Fatalf("state = %v, want pending", st)
	}
}

func TestConfirmBootSkipsValidSlot(t *testing.T) {
	s, _ := OpenBlockSlots(newMemFlash(9), quiet())
	w := &stubWaiter{}
	if err := ConfirmBoot(context.Background(), s, w, time.Second, quiet()); err != nil {
		t.Fatal(err)
	}
	if w.calls != 0 {
		t.Fatal("waited for readiness on an already valid slot")
	}
}
