package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ClaimResult tells the caller what to do with a unit of work keyed in the ledger.
type ClaimResult int

const (
	// ClaimAcquired means this caller owns the work and must MarkDone or MarkFailed.
	ClaimAcquired ClaimResult = iota
	// ClaimDone means the work already completed; skip it.
	ClaimDone
	// ClaimBusy means another caller is working on it right now.
	ClaimBusy
)

// Claim takes ownership of key. An IN_PROGRESS record older than lease is treated as
// abandoned by a crashed worker and reclaimed, as is a FAILED one.
func (s *Store) Claim(ctx context.Context, key string, orderID int64, lease time.Duration) (ClaimResult, error) {
	created, err := s.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return 0, err
	}
	if created {
		return ClaimAcquired, nil
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		// expired by TTL between the put and the read
		return 0, fmt.Errorf("idempotency record %q vanished", key)
	}

	switch rec.Status {
	case StatusDone:
		return ClaimDone, nil
	case StatusInProgress:
		if s.nowFunc().Sub(rec.UpdatedAt) < lease {
			return ClaimBusy, nil
		}
	case StatusFailed:
	default:
		return 0, fmt.Errorf("unknown idempotency status %q", rec.Status)
	}

	if err := s.Reclaim(ctx, rec); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return ClaimBusy, nil
		}
		return 0, err
	}
	return ClaimAcquired, nil
}
