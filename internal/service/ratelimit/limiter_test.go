package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowDrainsBucketPerKey(t *testing.T) {
	l := New()
	frozen := time.Now()
	l.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		if !l.Allow("u1", 3, 1) {
			t.Fatalf("call %d should pass", i)
		}
	}
	if l.Allow("u1", 3, 1) {
		t.Fatal("bucket should be empty")
	}
	if !l.Allow("u2", 3, 1) {
		t.Fatal("other keys have their own bucket")
	}

	frozen = frozen.Add(time.Second)
	if !l.Allow("u1", 3, 1) {
		t.Fatal("one token should have refilled")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 0.001) {
		t.Fatal("first token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWaitPacesRequests(t *testing.T) {
	l := New()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), "broker", 1, 50); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected pacing, took %s", elapsed)
	}
}
