package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *Client {
	s := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestNotifierRelaysPublish(t *testing.T) {
	c := setupTestRedis(t)
	sender := c.NewNotifier()
	receiver := c.NewNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- receiver.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ch, stop := receiver.Listen("sess-1")
	defer stop()
	other, stopOther := receiver.Listen("sess-2")
	defer stopOther()

	// The pattern subscription is established asynchronously; publish until delivered.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := sender.Publish(context.Background(), "sess-1"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case <-ch:
			select {
			case <-other:
				t.Fatal("sess-2 listener signalled for sess-1")
			default:
			}
			return
		case <-deadline:
			t.Fatal("signal was not relayed")
		case <-tick.C:
		}
	}
}

func TestNotifierSignalsLocallyWithoutRedis(t *testing.T) {
	s := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	n := c.NewNotifier()
	ch, stop := n.Listen("s1")
	defer stop()

	s.Close()
	if err := n.Publish(context.Background(), "s1"); err == nil {
		t.Fatal("expected publish error with redis down")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("local listener not signalled")
	}
}

func TestNotifierSkipsOwnEcho(t *testing.T) {
	c := setupTestRedis(t)
	n := c.NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ch, stop := n.Listen("s1")
	defer stop()
	// Wait for the pattern subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for c.cli.PubSubNumPat(context.Background()).Val() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("psubscribe not established")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := n.Publish(context.Background(), "s1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	<-ch
	select {
	case <-ch:
		t.Fatal("own publish delivered twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLimiterWindow(t *testing.T) {
	s := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	l := c.NewLimiter(2, time.Minute)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "intake:10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if ok != want {
			t.Fatalf("call %d: allowed=%v, want %v", i, ok, want)
		}
	}
	if ok, _ := l.Allow(ctx, "intake:10.0.0.2"); !ok {
		t.Fatal("other key was limited")
	}

	s.FastForward(2 * time.Minute)
	if ok, _ := l.Allow(ctx, "intake:10.0.0.1"); !ok {
		t.Fatal("window did not expire")
	}
}

func TestPushSubscriptions(t *testing.T) {
	c := setupTestRedis(t)
	subs := c.NewPushSubscriptions(2, time.Hour)
	ctx := context.Background()

	for _, raw := range []string{`{"endpoint":"a"}`, `{"endpoint":"b"}`, `{"endpoint":"c"}`} {
		if err := subs.Add(ctx, "u1", raw); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	list, err := subs.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0] != `{"endpoint":"b"}` || list[1] != `{"endpoint":"c"}` {
		t.Fatalf("list = %v", list)
	}

	if err := subs.Remove(ctx, "u1", func(raw string) bool { return raw == `{"endpoint":"b"}` }); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list, _ = subs.List(ctx, "u1")
	if len(list) != 1 || list[0] != `{"endpoint":"c"}` {
		t.Fatalf("after remove = %v", list)
	}

	if err := subs.Remove(ctx, "u1", func(string) bool { return true }); err != nil {
		t.Fatalf("Remove all: %v", err)
	}
	list, _ = subs.List(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("after remove all = %v", list)
	}
}
