package feed

import (
	"context"
	"testing"
	"time"
)

func TestLocalPublishWakesListener(t *testing.T) {
	l := NewLocal()
	ch, stop := l.Listen("s1")
	defer stop()

	if err := l.Publish(context.Background(), "s1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("listener was not signalled")
	}
}

func TestLocalPublishIsScopedToSession(t *testing.T) {
	l := NewLocal()
	ch, stop := l.Listen("s1")
	defer stop()

	l.Signal("s2")
	select {
	case <-ch:
		t.Fatal("listener of s1 signalled by s2")
	default:
	}
}

func TestLocalCoalescesBursts(t *testing.T) {
	l := NewLocal()
	ch, stop := l.Listen("s1")
	defer stop()

	for i := 0; i < 10; i++ {
		l.Signal("s1")
	}
	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single coalesced signal")
	default:
	}
}

func TestLocalStopIsIdempotent(t *testing.T) {
	l := NewLocal()
	_, stop := l.Listen("s1")
	if got := l.Listeners("s1"); got != 1 {
		t.Fatalf("listeners = %d, want 1", got)
	}
	stop()
	stop()
	if got := l.Listeners("s1"); got != 0 {
		t.Fatalf("listeners after stop = %d, want 0", got)
	}
}
