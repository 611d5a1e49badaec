package recovery

import "fmt"

// RiskLevel rates how much data an operation could lose if it went wrong.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskModerate
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskModerate:
		return "moderate"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRiskLevel accepts none, low, moderate, high or critical.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for r := RiskNone; r <= RiskCritical; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown risk level %q", s)
}

// OperationProfile describes what an operation will do to its target.
type OperationProfile struct {
	// Destructive operations replace or remove the target.
	Destructive bool

	// Backup is set when a full copy is taken before mutation.
	Backup bool

	// InBatch marks sub-operations of a batch, which run unattended.
	InBatch bool

	// OutputDir receives new files for non-destructive operations. Empty
	// means the target's own directory.
	OutputDir string
}

// Assess rates the profile. Writing a new file is riskless; replacing a
// file is low risk with a backup and high risk without one. Running inside
// a batch raises a destructive rating by one step.
func (p OperationProfile) Assess() RiskLevel {
	if !p.Destructive {
		return RiskNone
	}
	risk := RiskHigh
	if p.Backup {
		risk = RiskLow
	}
	if p.InBatch {
		risk++
	}
	return risk
}
