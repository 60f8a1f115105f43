package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryer_SucceedsAfterFailures(t *testing.T) {
	var retries []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}
	r := New(p, zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryer_Exhausted(t *testing.T) {
	r := New(fastPolicy(), nil)
	base := errors.New("still down")

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return base
	})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, 4, calls)
}

func TestRetryer_NonRetryable(t *testing.T) {
	fatal := errors.New("400 bad request")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }
	r := New(p, nil)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy()
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := New(p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Do(ctx, func(ctx context.Context) error { return errors.New("flaky") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryer_Delay(t *testing.T) {
	r := New(Policy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, nil)
	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(6))

	jittered := New(Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}, nil)
	for i := 0; i < 20; i++ {
		d := jittered.delay(3)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}
