package configs

import "time"

// SecurityLevel controls how aggressively inputs are checked before an
// operation is allowed to touch the filesystem.
type SecurityLevel string

const (
	SecurityStrict     SecurityLevel = "strict"
	SecurityStandard   SecurityLevel = "standard"
	SecurityPermissive SecurityLevel = "permissive"
)

// ValidationTimeout bounds how long pre-flight safety validation may take.
func (l SecurityLevel) ValidationTimeout() time.Duration {
	switch l {
	case SecurityStrict:
		return 10 * time.Second
	case SecurityPermissive:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// DefaultRiskThreshold is the highest operation risk the level accepts
// when security.risk_threshold is not set.
func (l SecurityLevel) DefaultRiskThreshold() string {
	switch l {
	case SecurityStrict:
		return "low"
	case SecurityPermissive:
		return "high"
	default:
		return "moderate"
	}
}

// EffectiveRiskThreshold returns the configured override or the level default.
func (c *Config) EffectiveRiskThreshold() string {
	if c.Security.RiskThreshold != "" {
		return c.Security.RiskThreshold
	}
	return c.Security.Level.DefaultRiskThreshold()
}
