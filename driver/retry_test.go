package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryWithBackoff(t *testing.T) {
	transient := errors.New("transient")

	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", 0, transient, 3, 1, nil},
		{"succeeds after retries", 2, transient, 3, 3, nil},
		{"runs out of attempts", 5, transient, 3, 3, transient},
		{"stops on permanent error", 5, fmt.Errorf("%w: x", ErrDatabaseNotFound), 3, 1, ErrDatabaseNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := retryWithBackoff(context.Background(), tt.attempts, time.Millisecond, 2*time.Millisecond, func() (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil || got != "ok" {
					t.Fatalf("got (%q, %v), want (\"ok\", nil)", got, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retryWithBackoff(ctx, 3, time.Hour, time.Hour, func() (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
