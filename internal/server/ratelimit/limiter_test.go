package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	t.Parallel()
	l := NewLimiter(3, time.Hour)
	defer l.Close()
	for i := range 3 {
		if res := l.Allow("a"); !res.Allowed {
			t.Fatalf("request %d refused: %+v", i, res)
		}
	}
	res := l.Allow("a")
	if res.Allowed {
		t.Fatal("fourth request allowed")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}
	if !l.Allow("b").Allowed {
		t.Error("keys share a bucket")
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	l := NewLimiter(10, time.Second)
	defer l.Close()
	l.Allow("a")
	l.cleanup(time.Now().Add(time.Minute))
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("%d buckets left", n)
	}
	l.Close()
}

func TestWriteHeaders(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	WriteHeaders(w, Result{Limit: 5, Remaining: 0, RetryAfter: 2 * time.Second})
	for k, want := range map[string]string{"X-RateLimit-Limit": "5", "X-RateLimit-Remaining": "0", "Retry-After": "2"} {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	w = httptest.NewRecorder()
	WriteHeaders(w, Result{Allowed: true, Limit: 5, Remaining: 4})
	if w.Header().Get("Retry-After") != "" {
		t.Error("Retry-After set on an allowed request")
	}
}
