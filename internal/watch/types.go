package watch

import (
	"math"
	"strings"
	"time"
)

// Policy names the rule used to compute a resource's next due time.
type Policy string

// Supported scheduling policies.
const (
	PolicyJittered Policy = "jittered"
	PolicyBackoff  Policy = "backoff"
	PolicyFixed    Policy = "fixed"
)

// ParsePolicy maps a stored policy string to a Policy. The legacy names
// random, exponential and none are accepted. Unknown values become fixed.
func ParsePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jittered", "random":
		return PolicyJittered
	case "backoff", "exponential":
		return PolicyBackoff
	default:
		return PolicyFixed
	}
}

// Status is the outcome recorded for a resource's most recent check.
type Status string

// Resource statuses. StatusNone means the resource was never checked.
const (
	StatusNone  Status = ""
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Resource is a watched endpoint as held by the registry.
type Resource struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Interval      Interval   `json:"interval_secs"`
	Policy        Policy     `json:"style"`
	LastCheckedAt *time.Time `json:"last_checked,omitempty"`
	LastChangedAt *time.Time `json:"last_updated,omitempty"`
	Status        Status     `json:"status,omitempty"`
}

// Interval is a whole-second polling interval.
type Interval int64

// MaxInterval is the longest interval the API and seed files accept.
const MaxInterval Interval = 365 * 24 * 60 * 60

// Duration converts the interval to a time.Duration, clamped to the largest
// representable value.
func (i Interval) Duration() time.Duration {
	if i > Interval(math.MaxInt64/int64(time.Second)) {
		return math.MaxInt64
	}
	return time.Duration(i) * time.Second
}

// RuntimeState is the scheduler's per-resource bookkeeping. It is never
// persisted; a restart makes every resource due immediately.
type RuntimeState struct {
	NextDueAt    time.Time
	BackoffCount int
}

// FetchRecord is one immutable entry of a resource's retained history.
type FetchRecord struct {
	ID          int64     `json:"id"`
	ResourceID  int64     `json:"site_id"`
	FetchedAt   time.Time `json:"timestamp"`
	Fingerprint string    `json:"diff_hash"`
	Body        string    `json:"content,omitempty"`
}

// DiffStats summarizes how much canonical text changed between two fetches.
type DiffStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ChangeEvent is published whenever a resource's fingerprint changes.
type ChangeEvent struct {
	ResourceID     int64      `json:"site_id"`
	URL            string     `json:"url"`
	FetchedAt      time.Time  `json:"timestamp"`
	Fingerprint    string     `json:"diff_hash"`
	PreviewText    string     `json:"content_preview"`
	HasFullContent bool       `json:"has_full_content"`
	Diff           *DiffStats `json:"diff,omitempty"`
}
