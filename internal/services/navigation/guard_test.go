package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/browser/pagetest"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/models"
)

func newTestGuard() *Guard {
	return NewGuard(common.NavigationConfig{
		MaxAttempts:    3,
		NavTimeout:     common.Dur(time.Second),
		IdleTimeout:    common.Dur(10 * time.Millisecond),
		InitialBackoff: common.Dur(time.Millisecond),
		MaxBackoff:     common.Dur(5 * time.Millisecond),
	}, arbor.NewNoOpLogger())
}

func TestGuard_RetriesTransientThenSucceeds(t *testing.T) {
	page := pagetest.New().FailNavigations(
		errors.New("page load error net::ERR_CONNECTION_RESET"),
		errors.New("navigation aborted"),
	)

	err := newTestGuard().Goto(context.Background(), page, "https://portal.test/home")
	require.NoError(t, err)
	assert.Len(t, page.Visits(), 3)

	url, _ := page.URL(context.Background())
	assert.Equal(t, "https://portal.test/home", url)
}

func TestGuard_NonRetryablePropagatesImmediately(t *testing.T) {
	boom := errors.New("invalid selector")
	page := pagetest.New().FailNavigations(boom)

	err := newTestGuard().Goto(context.Background(), page, "https://portal.test/home")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, page.Visits(), 1)

	var exhausted *models.NavigationExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestGuard_ExhaustionIsFatal(t *testing.T) {
	page := pagetest.New().FailNavigations(
		errors.New("net::ERR_ABORTED"),
		errors.New("net::ERR_ABORTED"),
		errors.New("net::ERR_ABORTED"),
	)

	err := newTestGuard().Goto(context.Background(), page, "https://portal.test/home")
	require.Error(t, err)

	var exhausted *models.NavigationExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "https://portal.test/home", exhausted.URL)
	assert.Len(t, page.Visits(), 3)
}

func TestGuard_AttemptOverride(t *testing.T) {
	page := pagetest.New().FailNavigations(errors.New("net::ERR_TIMED_OUT"))

	err := newTestGuard().GotoWith(context.Background(), page, "https://portal.test", Options{MaxAttempts: 1})
	var exhausted *models.NavigationExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"chrome net error", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), true},
		{"aborted", errors.New("request aborted"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", errors.Join(errors.New("nav"), context.DeadlineExceeded), true},
		{"selector", errors.New("could not find node"), false},
		{"credentials", errors.New("invalid credentials"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestWithRetry_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, arbor.NewNoOpLogger(), NewRetryPolicy(3, time.Millisecond, time.Millisecond), func(int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryPolicy_CalculateBackoff(t *testing.T) {
	policy := NewRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond)

	first := policy.CalculateBackoff(0)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(25*time.Millisecond))

	capped := policy.CalculateBackoff(4)
	assert.LessOrEqual(t, capped, 375*time.Millisecond)
	assert.GreaterOrEqual(t, capped, 225*time.Millisecond)
}
