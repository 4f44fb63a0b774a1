package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookoftales/tales/internal/logger"
)

// RetryPolicy controls how Connect retries an unreachable backing store.
type RetryPolicy struct {
	Attempts      int           // total attempts, >= 1
	InitialWait   time.Duration // wait after the first failure, doubles each time
	MaxWait       time.Duration // cap on the wait between attempts
	WarnThreshold int           // failures logged as warnings before escalating to errors
}

// DefaultRetryPolicy returns a single attempt with no retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 1, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second}
}

// connectionLogger handles all pool connection logging.
type connectionLogger struct {
	logger logger.Logger
	target string
}

func (cl *connectionLogger) logConnectionStart(attempts int) {
	cl.logger.Info("connecting to backing store",
		logger.String("target", cl.target),
		logger.Int("max_attempts", attempts))
}

func (cl *connectionLogger) logSuccess(attempts int, elapsed time.Duration) {
	if attempts > 1 {
		cl.logger.Warn("connected to backing store after retry",
			logger.String("target", cl.target),
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", elapsed))
		return
	}
	cl.logger.Info("connected to backing store",
		logger.String("target", cl.target))
}

func (cl *connectionLogger) logGiveUp(attempts int, elapsed time.Duration, err error) {
	cl.logger.Error("backing store unavailable - giving up",
		logger.String("target", cl.target),
		logger.Int("attempts", attempts),
		logger.Duration("elapsed", elapsed),
		logger.Error(err))
}

func (cl *connectionLogger) logRetry(attempt, warnThreshold int, nextRetry time.Duration, err error) {
	if attempt <= warnThreshold {
		cl.logger.Warn("backing store connection failed, retrying",
			logger.String("target", cl.target),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(err))
		return
	}
	cl.logger.Error("backing store still unavailable - connection attempts failing",
		logger.String("target", cl.target),
		logger.Int("attempt", attempt),
		logger.Duration("next_retry_in", nextRetry),
		logger.Error(err))
}

func (r RetryPolicy) validate() error {
	switch {
	case r.Attempts < 1:
		return fmt.Errorf("pool: retry attempts must be >= 1, got %d", r.Attempts)
	case r.InitialWait <= 0:
		return fmt.Errorf("pool: retry initial wait must be > 0, got %v", r.InitialWait)
	case r.MaxWait <= 0:
		return fmt.Errorf("pool: retry max wait must be > 0, got %v", r.MaxWait)
	case r.WarnThreshold < 0:
		return fmt.Errorf("pool: retry warn threshold must be >= 0, got %d", r.WarnThreshold)
	}
	return nil
}

// Connect builds a pool with New, retrying with capped exponential backoff
// while the backing store is unreachable. Invalid options fail at once.
// The final failure is the last *InitError, with Attempts set to the number
// of tries made. target only labels log lines and must not carry secrets.
func Connect(ctx context.Context, opts Options, driver Driver, log logger.Logger, target string, retry RetryPolicy) (*Pool, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := retry.validate(); err != nil {
		return nil, err
	}

	cl := &connectionLogger{logger: log, target: target}
	cl.logConnectionStart(retry.Attempts)

	start := time.Now()
	wait := retry.InitialWait

	for attempt := 1; ; attempt++ {
		p, err := New(ctx, opts, driver, log)
		if err == nil {
			cl.logSuccess(attempt, time.Since(start))
			return p, nil
		}

		var ierr *InitError
		if !errors.As(err, &ierr) {
			return nil, err
		}
		ierr.Attempts = attempt

		if attempt >= retry.Attempts {
			cl.logGiveUp(attempt, time.Since(start), ierr.Err)
			return nil, ierr
		}

		cl.logRetry(attempt, retry.WarnThreshold, wait, ierr.Err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			cl.logGiveUp(attempt, time.Since(start), ctx.Err())
			return nil, ierr
		case <-timer.C:
		}

		// Exponential backoff with cap
		wait *= 2
		if wait > retry.MaxWait {
			wait = retry.MaxWait
		}
	}
}
