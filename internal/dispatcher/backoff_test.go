package dispatcher

import (
	"testing"
	"time"
)

func TestExponentialBackoff_CapsAtMax(t *testing.T) {
	backoff := ExponentialBackoff(100*time.Millisecond, time.Second)
	d := backoff(20)
	if d > time.Second {
		t.Fatalf("expected delay capped at 1s, got %v", d)
	}
}

func TestExponentialBackoff_GrowsWithAttempt(t *testing.T) {
	backoff := ExponentialBackoff(10*time.Millisecond, time.Minute)
	// Use many samples to average out jitter noise.
	var sum0, sum3 time.Duration
	const samples = 50
	for i := 0; i < samples; i++ {
		sum0 += backoff(0)
		sum3 += backoff(3)
	}
	if sum3 <= sum0 {
		t.Fatalf("expected attempt 3 delay to exceed attempt 0 on average: attempt0=%v attempt3=%v", sum0, sum3)
	}
}

func TestExponentialBackoff_NegativeAttemptTreatedAsZero(t *testing.T) {
	backoff := ExponentialBackoff(10*time.Millisecond, time.Minute)
	d := backoff(-5)
	if d < 8*time.Millisecond || d > 12*time.Millisecond {
		t.Fatalf("expected negative attempt to behave like attempt 0, got %v", d)
	}
}
