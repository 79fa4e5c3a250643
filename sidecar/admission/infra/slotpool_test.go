package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_BlocksWhenFullUntilRelease(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out while the slot is held")
	}

	release()
	release2, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
	release2()
}

func TestChanPool_UnboundedWhenMaxIsZero(t *testing.T) {
	p := NewChanPool(0)
	for i := 0; i < 100; i++ {
		if _, ok := p.Acquire(context.Background()); !ok {
			t.Fatalf("expected unbounded pool to always acquire")
		}
	}
}

func TestChanPool_CancelledContextNeverAcquires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, p := range []interface {
		Acquire(context.Context) (func(), bool)
	}{NewChanPool(3), NewChanPool(0)} {
		if _, ok := p.Acquire(ctx); ok {
			t.Fatalf("expected acquire with cancelled context to fail")
		}
	}
}
