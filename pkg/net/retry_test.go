package net

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_ExhaustsRetryableErrors(t *testing.T) {
	calls := 0
	res := Retry(context.Background(), TransientPolicy(3, 0), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, NewStatusError(http.StatusTooManyRequests, "slow down")
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.Exhausted)
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(res.Err))
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("decode failed")
	res := Retry(context.Background(), TransientPolicy(3, time.Hour), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", boom
	})

	assert.Equal(t, 1, calls)
	assert.False(t, res.Exhausted)
	assert.ErrorIs(t, res.Err, boom)
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	res := Retry(context.Background(), TransientPolicy(3, time.Millisecond), func(ctx context.Context, attempt int) (string, error) {
		if attempt < 2 {
			return "", fmt.Errorf("read: %w", syscall.ECONNRESET)
		}
		return "ok", nil
	})

	assert.True(t, res.OK())
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 2, res.Attempts)
}

func TestRetry_AnyErrorPolicyRetriesEverything(t *testing.T) {
	calls := 0
	res := Retry(context.Background(), AnyErrorPolicy(3, 0), func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return false, errors.New("whatever")
	})

	assert.Equal(t, 3, calls)
	assert.True(t, res.Exhausted)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Retry(ctx, TransientPolicy(3, time.Hour), func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, NewStatusError(http.StatusForbidden, "")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"403", NewStatusError(403, ""), true},
		{"405", NewStatusError(405, ""), true},
		{"429", NewStatusError(429, ""), true},
		{"500 不重试", NewStatusError(500, ""), false},
		{"404 不重试", NewStatusError(404, ""), false},
		{"超时", context.DeadlineExceeded, true},
		{"连接重置", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"代理错误", errors.New("proxyconnect tcp: dial tcp 10.0.0.1:8080: connect: no route to host"), true},
		{"业务错误", errors.New("invalid json"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
