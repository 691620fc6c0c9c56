package util

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, doubling the delay between tries,
// until fn succeeds or ctx is cancelled. The last error is returned when
// all attempts fail.
func Retry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := initial
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
