package admission

import (
	"errors"
	"fmt"
	"time"
)

// Policy names of the built-in endpoints.
const (
	PolicyScan   = "scan"
	PolicyReport = "report"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("admission: invalid policy")

// Multipliers scale the base limit per complexity class.
type Multipliers struct {
	Simple  float64 `yaml:"simple"`
	Complex float64 `yaml:"complex"`
	Bulk    float64 `yaml:"bulk"`
}

// For returns the multiplier of class. Unknown classes get 1.
func (m Multipliers) For(class Complexity) float64 {
	switch class {
	case Simple:
		return m.Simple
	case Complex:
		return m.Complex
	case Bulk:
		return m.Bulk
	default:
		return 1
	}
}

// Policy is the rate limit of one endpoint.
type Policy struct {
	// Name is the feature name; it prefixes counter keys and selects the
	// load-adjustment cache entry.
	Name        string        `yaml:"-"`
	BaseLimit   int           `yaml:"base_limit"`
	Window      time.Duration `yaml:"window"`
	Multipliers Multipliers   `yaml:"multipliers"`
	// Dynamic enables queue backpressure for this endpoint.
	Dynamic bool `yaml:"dynamic"`
}

// Validate checks that the policy can produce limits.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidPolicy)
	case p.BaseLimit < 1:
		return fmt.Errorf("%w: %s base limit must be at least 1", ErrInvalidPolicy, p.Name)
	case p.Window <= 0:
		return fmt.Errorf("%w: %s window must be positive", ErrInvalidPolicy, p.Name)
	case p.Multipliers.Simple <= 0 || p.Multipliers.Complex <= 0 || p.Multipliers.Bulk <= 0:
		return fmt.Errorf("%w: %s multipliers must be positive", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// ScanPolicy returns the default policy of the scan submission endpoint.
func ScanPolicy() Policy {
	return Policy{
		Name:        PolicyScan,
		BaseLimit:   10,
		Window:      time.Minute,
		Multipliers: Multipliers{Simple: 1.0, Complex: 0.6, Bulk: 0.4},
		Dynamic:     true,
	}
}

// ReportPolicy returns the default policy of the report endpoints.
func ReportPolicy() Policy {
	return Policy{
		Name:        PolicyReport,
		BaseLimit:   60,
		Window:      time.Minute,
		Multipliers: Multipliers{Simple: 1.0, Complex: 0.8, Bulk: 0.5},
	}
}
