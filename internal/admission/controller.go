package admission

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nao1215/privscan/internal/clock"
)

// Multiplierer supplies the backpressure multiplier for a feature.
// *LoadAdjuster implements it.
type Multiplierer interface {
	Multiplier(ctx context.Context, feature string) float64
}

// Decision is the outcome of admitting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is how long a denied caller should wait. It equals the
	// policy window.
	RetryAfter time.Duration
	Complexity Complexity
}

// Controller computes limits and counts hits.
type Controller struct {
	classifier Classifier
	load       Multiplierer
	counter    Counter
	clock      clock.Clock
	logger     *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClassifier sets the request classifier.
func WithClassifier(c Classifier) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.classifier = c
	}
}

// WithLoad enables backpressure for policies that ask for it. Without it
// dynamic policies use their complexity-adjusted limit.
func WithLoad(m Multiplierer) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.load = m
	}
}

// WithCounter sets the hit counter. The default is an in-process counter.
func WithCounter(c Counter) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.counter = c
	}
}

// WithControllerClock sets the time source.
func WithControllerClock(c clock.Clock) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.logger = logger
	}
}

// NewController returns a controller.
func NewController(opts ...ControllerOption) *Controller {
	ctrl := &Controller{}
	for _, opt := range opts {
		opt(ctrl)
	}
	ctrl.clock = clock.OrSystem(ctrl.clock)
	if ctrl.counter == nil {
		ctrl.counter = NewMemoryCounter(ctrl.clock)
	}
	if ctrl.logger == nil {
		ctrl.logger = slog.Default()
	}
	return ctrl
}

// Classify returns the complexity class of shape.
func (c *Controller) Classify(shape RequestShape) Complexity {
	return c.classifier.Classify(shape)
}

// Limit returns the number of requests allowed per window for shape under
// policy. A panic while classifying or adjusting yields the base limit.
func (c *Controller) Limit(ctx context.Context, policy Policy, shape RequestShape) int {
	limit, _ := c.limit(ctx, policy, shape)
	return limit
}

func (c *Controller) limit(ctx context.Context, policy Policy, shape RequestShape) (limit int, class Complexity) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("limit computation failed, using base limit",
				"policy", policy.Name, "error", fmt.Sprint(r))
			limit, class = policy.BaseLimit, Simple
		}
	}()

	class = c.classifier.Classify(shape)
	adjusted := math.Floor(float64(policy.BaseLimit) * policy.Multipliers.For(class))
	if policy.Dynamic && c.load != nil {
		adjusted = math.Floor(adjusted * c.load.Multiplier(ctx, policy.Name))
	}
	return max(1, int(adjusted)), class
}

// Decide counts one hit from key against policy and reports whether it is
// within the limit. A counter failure admits the request.
func (c *Controller) Decide(ctx context.Context, policy Policy, shape RequestShape, key string) Decision {
	limit, class := c.limit(ctx, policy, shape)
	d := Decision{
		Allowed:    true,
		Limit:      limit,
		Remaining:  limit,
		ResetAt:    c.clock.Now().Add(policy.Window),
		RetryAfter: policy.Window,
		Complexity: class,
	}

	count, resetAt, err := c.counter.Hit(ctx, policy.Name+":"+key, policy.Window)
	if err != nil {
		c.logger.Warn("rate counter unavailable, admitting request",
			"policy", policy.Name, "error", err)
		return d
	}

	d.ResetAt = resetAt
	d.Allowed = count <= int64(limit)
	d.Remaining = max(0, limit-int(count))
	return d
}
