package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Retrying retries transport-level failures (429, 5xx, network) of the
// wrapped Completer with 1.5x backoff. Output quality is never retried here.
type Retrying struct {
	next   Completer
	config RetryConfig
	logger *logrus.Logger
}

func NewRetrying(next Completer, config RetryConfig, logger *logrus.Logger) *Retrying {
	return &Retrying{next: next, config: config, logger: logger}
}

func (r *Retrying) Configured() bool {
	return r.next.Configured()
}

func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	err := r.retryOperation(ctx, func() error {
		var err error
		out, err = r.next.Complete(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) retryOperation(ctx context.Context, operation func() error) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			if attempt == 0 {
				return err
			}
			return fmt.Errorf("operation failed after %d retries: %w", attempt, err)
		}

		delay := time.Duration(float64(r.config.BaseDelay) * math.Pow(1.5, float64(attempt)))
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}

		r.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   err.Error(),
		}).Warn("Retrying LLM request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Retryable reports whether err is a rate limit, server or network failure.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == 429 || status.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
