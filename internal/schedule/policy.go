package schedule

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// maxBackoffExponent caps the backoff multiplier at 2^10.
const maxBackoffExponent = 10

// Planner computes next-due times from check outcomes.
type Planner struct {
	// JitterMax bounds the uniform delay added by the jittered policy.
	JitterMax time.Duration
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int64) int64
}

// Next returns the state that follows a check of a resource with the given
// policy and interval, fetched at fetchedAt with outcome ok.
func (p Planner) Next(policy watch.Policy, interval time.Duration, prev watch.RuntimeState, fetchedAt time.Time, ok bool) watch.RuntimeState {
	switch watch.ParsePolicy(string(policy)) {
	case watch.PolicyJittered:
		return watch.RuntimeState{
			NextDueAt:    fetchedAt.Add(addSaturating(interval, p.jitter())),
			BackoffCount: prev.BackoffCount,
		}
	case watch.PolicyBackoff:
		if ok {
			return watch.RuntimeState{NextDueAt: fetchedAt.Add(interval)}
		}
		count := prev.BackoffCount + 1
		exp := min(count, maxBackoffExponent)
		return watch.RuntimeState{
			NextDueAt:    fetchedAt.Add(scaleSaturating(interval, exp)),
			BackoffCount: count,
		}
	default:
		return watch.RuntimeState{
			NextDueAt:    fetchedAt.Add(interval),
			BackoffCount: prev.BackoffCount,
		}
	}
}

// jitter draws uniformly from [0, JitterMax].
func (p Planner) jitter() time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	draw := p.Rand
	if draw == nil {
		draw = rand.Int64N
	}
	return time.Duration(draw(int64(p.JitterMax) + 1))
}

// scaleSaturating returns d·2^exp, clamped to the largest Duration.
func scaleSaturating(d time.Duration, exp int) time.Duration {
	if d > math.MaxInt64>>exp {
		return math.MaxInt64
	}
	return d << exp
}

func addSaturating(a, b time.Duration) time.Duration {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
