package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o deadline reached" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	t.Run("Should map known provider error text to categories", func(t *testing.T) {
		cases := []struct {
			err  string
			want Category
		}{
			{"Error code: 400 - {'error': {'code': 'tool_use_failed', 'failed_generation': '...'}}", CategoryFailedGeneration},
			{"Failed to call a function. Please adjust your prompt.", CategoryFailedGeneration},
			{"Error code: 413 - Request too large for model", CategoryRateLimited},
			{"Rate_Limit_Exceeded: Limit 6000, Used 5900", CategoryRateLimited},
			{"Rate limit reached for tokens per minute", CategoryRateLimited},
			{"status 429", CategoryRateLimited},
			{"Request timed out.", CategoryTimeout},
			{"ReadTimeout: HTTPSConnectionPool", CategoryTimeout},
			{"ClientRequest aborted", CategoryTimeout},
			{"Connection broken: InvalidChunkLength(got length b'', 0 bytes read)", CategoryTransient},
			{"socket hang up", CategoryTransient},
			{"read tcp: connection reset by peer", CategoryTransient},
			{"invalid api key", CategoryUnclassified},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.want, Classify(errors.New(tc.err)), tc.err)
		}
	})

	t.Run("Should use error types when the text is not recognized", func(t *testing.T) {
		assert.Equal(t, CategoryTimeout, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)))
		assert.Equal(t, CategoryTimeout, Classify(timeoutNetErr{}))
		assert.Equal(t, CategoryTransient, Classify(fmt.Errorf("read: %w", syscall.ECONNRESET)))
		assert.Equal(t, CategoryTransient, Classify(io.ErrUnexpectedEOF))
		assert.Equal(t, CategoryUnclassified, Classify(context.Canceled))
		assert.Equal(t, CategoryUnclassified, Classify(nil))
	})

	t.Run("Should accept custom rules", func(t *testing.T) {
		c := NewClassifier(FailureRule{Category: CategoryTransient, Fragments: []string{"  Overloaded "}})
		assert.Equal(t, CategoryTransient, c.Classify(errors.New("model OVERLOADED, try later")))
		assert.Equal(t, CategoryUnclassified, c.Classify(errors.New("429")))
	})
}

func TestRetryPolicy_Recommend(t *testing.T) {
	policy := buildSettings(DefaultConfig()).policy

	t.Run("Should retry within the shared budget", func(t *testing.T) {
		fg := policy.Recommend(CategoryFailedGeneration, 1)
		assert.Equal(t, ActionRetry, fg.Kind)
		assert.Equal(t, time.Second, fg.Delay)
		assert.False(t, fg.TrimHistory)

		rl := policy.Recommend(CategoryRateLimited, 1)
		assert.Equal(t, ActionRetry, rl.Kind)
		assert.Equal(t, 30*time.Second, rl.Delay)
		assert.True(t, rl.TrimHistory)
		assert.Contains(t, rl.Notice, "Rate limit hit")

		tr := policy.Recommend(CategoryTransient, 1)
		assert.Equal(t, ActionRetry, tr.Kind)
		assert.Equal(t, time.Second, tr.Delay)
	})

	t.Run("Should terminate or raise once the budget is spent", func(t *testing.T) {
		assert.Equal(t, ActionTerminate, policy.Recommend(CategoryFailedGeneration, 2).Kind)
		assert.Contains(t, policy.Recommend(CategoryRateLimited, 2).Message, "Rate limit exceeded")
		assert.Equal(t, ActionRaise, policy.Recommend(CategoryTransient, 2).Kind)
	})

	t.Run("Should never retry timeouts or unclassified errors", func(t *testing.T) {
		to := policy.Recommend(CategoryTimeout, 1)
		assert.Equal(t, ActionTerminate, to.Kind)
		assert.Contains(t, to.Message, "Request timed out")
		assert.Equal(t, ActionRaise, policy.Recommend(CategoryUnclassified, 1).Kind)
	})

	t.Run("Should announce the configured rate limit delay", func(t *testing.T) {
		custom := RetryPolicy{MaxRetries: 1, RateLimitDelay: 90 * time.Second}
		rl := custom.Recommend(CategoryRateLimited, 1)
		assert.Equal(t, 90*time.Second, rl.Delay)
		assert.Contains(t, rl.Notice, "waiting 1m30s")
		assert.Contains(t, policy.Recommend(CategoryRateLimited, 1).Notice, "waiting 30s")
	})

	t.Run("Should cap transient backoff", func(t *testing.T) {
		wide := RetryPolicy{MaxRetries: 10, TransientBackoffBase: time.Second, TransientBackoffMax: 10 * time.Second}
		var got []time.Duration
		for n := 1; n <= 6; n++ {
			got = append(got, wide.Recommend(CategoryTransient, n).Delay)
		}
		want := []time.Duration{
			time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
		}
		assert.Equal(t, want, got)
	})
}
