package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(60, time.Minute, 5)
	defer l.Close()
	for i := range 5 {
		if !l.Allow("client") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.Allow("client") {
		t.Fatal("request beyond burst allowed")
	}
}

func TestClientsIsolated(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	if !l.Allow("a") {
		t.Fatal("first request for a denied")
	}
	if l.Allow("a") {
		t.Fatal("second request for a allowed")
	}
	// An exhausted bucket for one client does not affect another.
	if !l.Allow("b") {
		t.Fatal("first request for b denied")
	}
}

func TestRefill(t *testing.T) {
	// 100 tokens per second refills one token in ~10ms.
	l := NewLimiter(100, time.Second, 1)
	defer l.Close()
	if !l.Allow("client") {
		t.Fatal("first request denied")
	}
	if l.Allow("client") {
		t.Fatal("immediate second request allowed")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("client") {
		t.Fatal("request denied after refill window")
	}
}

func TestClose(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	l.Close()
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup goroutine still running after Close")
	}
}

func TestCleanupKeepsDepletedBuckets(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	l.Allow("client")
	l.mu.Lock()
	l.buckets["client"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()
	l.cleanup()
	// Not yet full again, so not evicted.
	l.mu.Lock()
	_, present := l.buckets["client"]
	l.mu.Unlock()
	if !present {
		t.Fatal("bucket evicted while depleted")
	}
}
