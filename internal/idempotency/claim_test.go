package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestClaimLifecycle(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	res, err := s.Claim(ctx, "webhook:1:p1:succeeded", 1, time.Minute)
	if err != nil || res != ClaimAcquired {
		t.Fatalf("first claim: res=%v err=%v", res, err)
	}

	res, err = s.Claim(ctx, "webhook:1:p1:succeeded", 1, time.Minute)
	if err != nil || res != ClaimBusy {
		t.Fatalf("claim while in progress: res=%v err=%v", res, err)
	}

	if err := s.MarkDone(ctx, "webhook:1:p1:succeeded", "", 200); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	res, err = s.Claim(ctx, "webhook:1:p1:succeeded", 1, time.Minute)
	if err != nil || res != ClaimDone {
		t.Fatalf("claim after done: res=%v err=%v", res, err)
	}
}

func TestClaimRetriesFailedWork(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if res, _ := s.Claim(ctx, "notify:order.paid:9", 9, time.Minute); res != ClaimAcquired {
		t.Fatalf("expected acquired, got %v", res)
	}
	if err := s.MarkFailed(ctx, "notify:order.paid:9", "smtp down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	res, err := s.Claim(ctx, "notify:order.paid:9", 9, time.Minute)
	if err != nil || res != ClaimAcquired {
		t.Fatalf("expected failed work to be reclaimed: res=%v err=%v", res, err)
	}
}

func TestClaimTakesOverAbandonedLease(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	s.nowFunc = func() time.Time { return now }

	if res, _ := s.Claim(ctx, "k", 0, time.Minute); res != ClaimAcquired {
		t.Fatalf("expected acquired, got %v", res)
	}

	now = start.Add(30 * time.Second)
	if res, _ := s.Claim(ctx, "k", 0, time.Minute); res != ClaimBusy {
		t.Fatalf("expected busy inside the lease, got %v", res)
	}

	now = start.Add(2 * time.Minute)
	res, err := s.Claim(ctx, "k", 0, time.Minute)
	if err != nil || res != ClaimAcquired {
		t.Fatalf("expected takeover after lease: res=%v err=%v", res, err)
	}
}
