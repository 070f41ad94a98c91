package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the broker-side state of a job.
type JobStatus string

const (
	// JobWaiting jobs are ready to be claimed.
	JobWaiting JobStatus = "waiting"
	// JobActive jobs are claimed by a worker.
	JobActive JobStatus = "active"
	// JobCompleted jobs finished successfully.
	JobCompleted JobStatus = "completed"
	// JobFailed jobs failed at least once and wait for their retry backoff.
	JobFailed JobStatus = "failed"
	// JobDead jobs exhausted their attempts and sit in a dead-letter store.
	JobDead JobStatus = "dead"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	// BackoffFixed waits Delay before every retry.
	BackoffFixed BackoffType = "fixed"
	// BackoffExponential waits Delay × 2^(attempt-1).
	BackoffExponential BackoffType = "exponential"
)

// maxBackoffShift bounds exponential growth so delays do not overflow.
const maxBackoffShift = 20

// ErrInvalidBackoff is returned when a backoff policy cannot be parsed.
var ErrInvalidBackoff = errors.New("invalid backoff policy")

// Backoff is a retry delay policy. Its text form is "<type>:<milliseconds>",
// for example "fixed:1000".
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// ParseBackoff parses the text form of a backoff policy. A bare number is
// read as a fixed delay in milliseconds.
func ParseBackoff(s string) (Backoff, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Backoff{}, fmt.Errorf("%w: empty", ErrInvalidBackoff)
	}
	kind, ms, found := strings.Cut(s, ":")
	if !found {
		kind, ms = string(BackoffFixed), s
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n < 0 {
		return Backoff{}, fmt.Errorf("%w: %q", ErrInvalidBackoff, s)
	}
	b := Backoff{Type: BackoffType(strings.ToLower(kind)), Delay: time.Duration(n) * time.Millisecond}
	switch b.Type {
	case BackoffFixed, BackoffExponential:
		return b, nil
	default:
		return Backoff{}, fmt.Errorf("%w: unknown type %q", ErrInvalidBackoff, kind)
	}
}

// String returns the text form of the policy.
func (b Backoff) String() string {
	kind := b.Type
	if kind == "" {
		kind = BackoffFixed
	}
	return fmt.Sprintf("%s:%d", kind, b.Delay.Milliseconds())
}

// MarshalText encodes the policy in its text form.
func (b Backoff) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes the text form.
func (b *Backoff) UnmarshalText(text []byte) error {
	parsed, err := ParseBackoff(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// DelayFor returns the wait before retry number attempt (1-based).
func (b Backoff) DelayFor(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return b.Delay * time.Duration(1<<shift)
}

// JobOptions are the per-job delivery options supplied at enqueue time.
type JobOptions struct {
	// Attempts is the total number of executions allowed before the job is
	// dead-lettered. Values below 1 are treated as 1.
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// MaxAttempts returns Attempts clamped to at least 1.
func (o JobOptions) MaxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// Job is a unit of work owned by the broker.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Opts    JobOptions      `json:"opts"`

	// AttemptsMade counts failed executions so far.
	AttemptsMade int       `json:"attemptsMade"`
	Status       JobStatus `json:"status"`
	LastError    string    `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QueueMetrics is a point-in-time snapshot of a queue's depth.
type QueueMetrics struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	// Failed counts jobs that failed an attempt and wait in the delayed set
	// for their retry. Dead-lettered jobs are not included; brokers report
	// those through DeadCount.
	Failed int64 `json:"failed"`

	// TotalPending is Waiting + Active.
	TotalPending int64 `json:"totalPending"`
}

// NewQueueMetrics builds a snapshot and fills TotalPending.
func NewQueueMetrics(waiting, active, failed int64) QueueMetrics {
	return QueueMetrics{
		Waiting:      waiting,
		Active:       active,
		Failed:       failed,
		TotalPending: waiting + active,
	}
}
