package infra

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenExhaustion(t *testing.T) {
	rl := NewRateLimiter(3, 1)

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Errorf("Expected token %d of the burst to be available", i+1)
		}
	}

	if rl.TryAcquire() {
		t.Error("Expected no token after the burst is spent")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 100) // refills a token every 10ms

	if !rl.TryAcquire() {
		t.Fatal("Expected the initial token")
	}
	if rl.TryAcquire() {
		t.Fatal("Expected the bucket to be empty")
	}

	time.Sleep(20 * time.Millisecond)

	if !rl.TryAcquire() {
		t.Error("Expected a refilled token after waiting")
	}
}

func TestRateLimiter_WaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(1, 100)
	rl.Wait() // consumes the burst token

	start := time.Now()
	rl.Wait() // must block for roughly one refill interval
	elapsed := time.Since(start)

	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected Wait to block for a refill, returned after %s", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Wait blocked far longer than the refill interval: %s", elapsed)
	}
}

func TestRateLimiter_CapsAtMaxTokens(t *testing.T) {
	rl := NewRateLimiter(2, 10)

	time.Sleep(20 * time.Millisecond) // refill accrues against a full bucket

	granted := 0
	for rl.TryAcquire() {
		granted++
		if granted > 10 {
			break
		}
	}
	if granted != 2 {
		t.Errorf("Expected the bucket capped at 2 tokens, got %d", granted)
	}
}
