package auth

import "testing"

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewRateLimiter(1, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("client-1") {
			t.Fatalf("request %d should be within burst", i)
		}
	}
	if limiter.Allow("client-1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter := NewRateLimiter(1, 1)

	if !limiter.Allow("client-1") {
		t.Fatal("first request for client-1 denied")
	}
	if !limiter.Allow("client-2") {
		t.Error("client-2 should not share client-1's budget")
	}
}

func TestRateLimiterForget(t *testing.T) {
	limiter := NewRateLimiter(1, 1)

	limiter.Allow("client-1")
	if limiter.Allow("client-1") {
		t.Fatal("budget should be exhausted")
	}
	limiter.Forget("client-1")
	if !limiter.Allow("client-1") {
		t.Error("Forget should reset the client's budget")
	}
}
