package orchestrator

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Category is the classification of a failed attempt.
type Category string

const (
	CategoryFailedGeneration Category = "failed_generation"
	CategoryRateLimited      Category = "rate_limited"
	CategoryTimeout          Category = "timeout"
	CategoryTransient        Category = "transient_stream_error"
	CategoryUnclassified     Category = "unclassified"
)

// FailureRule maps error text fragments to a category. Fragments are matched
// case-insensitively as substrings.
type FailureRule struct {
	Category  Category
	Fragments []string
}

// DefaultFailureRules is evaluated in order; the first matching rule wins.
var DefaultFailureRules = []FailureRule{
	{Category: CategoryFailedGeneration, Fragments: []string{
		"failed_generation",
		"failed to call a function",
	}},
	{Category: CategoryRateLimited, Fragments: []string{
		"413",
		"429",
		"rate_limit",
		"rate limit",
		"request too large",
		"tokens per minute",
	}},
	{Category: CategoryTimeout, Fragments: []string{
		"timed out",
		"timeout",
		"read timeout",
		"clientrequest",
	}},
	{Category: CategoryTransient, Fragments: []string{
		"connection broken",
		"invalidchunklength",
		"socket hang up",
		"connection reset",
		"broken pipe",
		"unexpected eof",
	}},
}

// Classifier maps errors to categories using a rule table.
type Classifier struct {
	rules []FailureRule
}

// NewClassifier builds a classifier. With no rules it uses DefaultFailureRules.
func NewClassifier(rules ...FailureRule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultFailureRules
	}
	normalized := make([]FailureRule, 0, len(rules))
	for _, r := range rules {
		frags := make([]string, 0, len(r.Fragments))
		for _, f := range r.Fragments {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
				frags = append(frags, f)
			}
		}
		normalized = append(normalized, FailureRule{Category: r.Category, Fragments: frags})
	}
	return &Classifier{rules: normalized}
}

var defaultClassifier = NewClassifier()

// Classify maps err with the default rule table.
func Classify(err error) Category {
	return defaultClassifier.Classify(err)
}

func (c *Classifier) Classify(err error) Category {
	if err == nil {
		return CategoryUnclassified
	}
	text := strings.ToLower(err.Error())
	for _, rule := range c.rules {
		for _, frag := range rule.Fragments {
			if strings.Contains(text, frag) {
				return rule.Category
			}
		}
	}
	return classifyByType(err)
}

func classifyByType(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryTransient
	}
	return CategoryUnclassified
}

type ActionKind string

const (
	ActionRetry     ActionKind = "retry"
	ActionTerminate ActionKind = "terminate"
	ActionRaise     ActionKind = "raise"
)

// Action is what the orchestrator does after a classified failure.
type Action struct {
	Kind ActionKind
	// Delay before the next attempt.
	Delay time.Duration
	// TrimHistory restarts with only the final message.
	TrimHistory bool
	// Notice is appended and emitted before waiting.
	Notice string
	// Message is appended before the final emission on termination.
	Message string
}

// RetryPolicy turns a category into an action. The retry budget is shared by
// all categories of one logical run.
type RetryPolicy struct {
	MaxRetries            int
	FailedGenerationDelay time.Duration
	RateLimitDelay        time.Duration
	TransientBackoffBase  time.Duration
	TransientBackoffMax   time.Duration
}

// Recommend returns the action for cat, where retries is the number of
// failures seen so far in this run, including this one.
func (p RetryPolicy) Recommend(cat Category, retries int) Action {
	canRetry := retries <= p.MaxRetries
	switch cat {
	case CategoryFailedGeneration:
		if canRetry {
			return Action{Kind: ActionRetry, Delay: p.FailedGenerationDelay}
		}
		return Action{Kind: ActionTerminate, Message: failedGenerationMessage}
	case CategoryRateLimited:
		if canRetry {
			return Action{Kind: ActionRetry, Delay: p.RateLimitDelay, TrimHistory: true, Notice: rateLimitNotice(p.RateLimitDelay)}
		}
		return Action{Kind: ActionTerminate, Message: rateLimitMessage}
	case CategoryTimeout:
		return Action{Kind: ActionTerminate, Message: requestTimeoutMessage}
	case CategoryTransient:
		if canRetry {
			return Action{Kind: ActionRetry, Delay: p.transientDelay(retries)}
		}
		return Action{Kind: ActionRaise}
	default:
		return Action{Kind: ActionRaise}
	}
}

// transientDelay is min(base*2^(n-1), max).
func (p RetryPolicy) transientDelay(n int) time.Duration {
	base := defaultDuration(p.TransientBackoffBase, defaultTransientBackoffBase)
	backoff := retry.WithCappedDuration(
		defaultDuration(p.TransientBackoffMax, defaultTransientBackoffMax),
		retry.NewExponential(base),
	)
	delay := base
	for i := 0; i < max(n, 1); i++ {
		next, stop := backoff.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}
