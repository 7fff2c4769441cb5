package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/logging"
)

// RetryPolicy bounds the retry envelope around one role invocation.
// Backoff is deterministic — no jitter — so a replay of a logged run
// reproduces the exact delays recorded in the ledger.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the stock policy: 3 attempts, 1s base, 8s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaults.MaxDelay
	}
}

// delayBefore returns the sleep preceding attempt n (1-indexed). Attempt 1
// starts immediately; attempt k+1 waits min(base*2^(k-1), max).
func (p RetryPolicy) delayBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Attempt is the audit record of one try of a retried role call.
type Attempt struct {
	ID      string        `json:"id"`
	Number  int           `json:"attempt"`
	Delay   time.Duration `json:"delay_before"`
	Class   Class         `json:"class,omitempty"`
	Err     string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
	Success bool          `json:"success"`
}

// AttemptRecorder receives every attempt, success or failure, before the
// overall call returns.
type AttemptRecorder interface {
	RecordAttempt(role Role, attempt Attempt)
}

// Retry wraps op with bounded retries and deterministic exponential backoff.
// Transient-classified failures are absorbed up to the attempt ceiling;
// fatal failures propagate immediately without consuming more attempts.
// The last error is returned once attempts are exhausted.
func Retry(
	ctx context.Context,
	role Role,
	policy RetryPolicy,
	rec AttemptRecorder,
	log *logging.Logger,
	op func(context.Context) (string, error),
) (string, error) {
	policy.ApplyDefaults()
	if log == nil {
		log = logging.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		delay := policy.delayBefore(attempt)
		if delay > 0 {
			log.Info("retrying role invocation",
				zap.String("role", string(role)),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Duration("backoff", delay),
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		out, err := op(ctx)
		record := Attempt{
			ID:      uuid.NewString(),
			Number:  attempt,
			Delay:   delay,
			At:      time.Now(),
			Success: err == nil,
		}
		if err != nil {
			record.Class = Classify(err)
			record.Err = err.Error()
		}
		if rec != nil {
			rec.RecordAttempt(role, record)
		}

		if err == nil {
			if attempt > 1 {
				log.Info("role invocation recovered after retries",
					zap.String("role", string(role)),
					zap.Int("attempts", attempt),
				)
			}
			return out, nil
		}

		lastErr = err
		if record.Class != ClassTransient {
			log.Warn("role invocation failed with fatal error",
				zap.String("role", string(role)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return "", err
		}
		log.Warn("role invocation failed with transient error",
			zap.String("role", string(role)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("role %s failed after %d attempts: %w", role, policy.MaxAttempts, lastErr)
}
