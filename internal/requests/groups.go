package requests

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// AuthorityTier classifies which recipients an operation may target.
// Tiers are ordered: standard < elevated < emergency.
type AuthorityTier int

const (
	TierStandard AuthorityTier = iota + 1
	TierElevated
	TierEmergency
)

func (t AuthorityTier) String() string {
	switch t {
	case TierStandard:
		return "standard"
	case TierElevated:
		return "elevated"
	case TierEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

func (t AuthorityTier) valid() bool {
	return t >= TierStandard && t <= TierEmergency
}

// ParseAuthorityTier accepts standard, elevated or emergency.
func ParseAuthorityTier(s string) (AuthorityTier, error) {
	switch s {
	case "standard":
		return TierStandard, nil
	case "elevated":
		return TierElevated, nil
	case "emergency":
		return TierEmergency, nil
	default:
		return 0, fmt.Errorf("unknown authority tier %q", s)
	}
}

// RecipientGroup is a named, tiered, ordered set of recipients. Insertion
// order is preserved and duplicates are rejected. The tier only changes
// through Retier.
type RecipientGroup struct {
	name       string
	tier       AuthorityTier
	recipients []Recipient
	Metadata   map[string]string
}

// NewRecipientGroup creates a group with the given recipients in order.
func NewRecipientGroup(name string, tier AuthorityTier, recipients ...Recipient) (*RecipientGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("recipient group name must not be empty")
	}
	if !tier.valid() {
		return nil, fmt.Errorf("group %s: invalid authority tier %d", name, tier)
	}

	g := &RecipientGroup{name: name, tier: tier}
	for _, r := range recipients {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// GroupFromConfig builds a group from its configuration entry.
func GroupFromConfig(name string, cfg configs.RecipientGroupConfig) (*RecipientGroup, error) {
	tier, err := ParseAuthorityTier(cfg.Tier)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", name, err)
	}
	recipients, err := ParseRecipients(cfg.Recipients)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", name, err)
	}
	g, err := NewRecipientGroup(name, tier, recipients...)
	if err != nil {
		return nil, err
	}
	g.Metadata = maps.Clone(cfg.Metadata)
	return g, nil
}

// GroupsFromConfig builds every configured group, ordered by name.
func GroupsFromConfig(cfg *configs.Config) ([]*RecipientGroup, error) {
	names := cfg.RecipientGroupNames()
	groups := make([]*RecipientGroup, 0, len(names))
	for _, name := range names {
		group, _ := cfg.RecipientGroup(name)
		g, err := GroupFromConfig(name, group)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (g *RecipientGroup) Name() string { return g.name }

func (g *RecipientGroup) Tier() AuthorityTier { return g.tier }

func (g *RecipientGroup) Len() int { return len(g.recipients) }

// Recipients returns a copy in insertion order.
func (g *RecipientGroup) Recipients() []Recipient {
	return slices.Clone(g.recipients)
}

func (g *RecipientGroup) Contains(r Recipient) bool {
	return slices.ContainsFunc(g.recipients, r.Equal)
}

// Add appends r, rejecting duplicates.
func (g *RecipientGroup) Add(r Recipient) error {
	if g.Contains(r) {
		return fmt.Errorf("%w: %s already in group %s", kerrors.ErrDuplicateRecipient, r, g.name)
	}
	g.recipients = append(g.recipients, r)
	return nil
}

// Remove deletes r, reporting whether it was present.
func (g *RecipientGroup) Remove(r Recipient) bool {
	i := slices.IndexFunc(g.recipients, r.Equal)
	if i < 0 {
		return false
	}
	g.recipients = slices.Delete(g.recipients, i, i+1)
	return true
}

// Retier explicitly moves the group to a different authority tier.
func (g *RecipientGroup) Retier(tier AuthorityTier) error {
	if !tier.valid() {
		return fmt.Errorf("group %s: invalid authority tier %d", g.name, tier)
	}
	g.tier = tier
	return nil
}

// Config converts the group back into its configuration entry.
func (g *RecipientGroup) Config() configs.RecipientGroupConfig {
	values := make([]string, len(g.recipients))
	for i, r := range g.recipients {
		values[i] = r.String()
	}
	return configs.RecipientGroupConfig{
		Tier:       g.tier.String(),
		Recipients: values,
		Metadata:   maps.Clone(g.Metadata),
	}
}

// TieredRecipient is a recipient annotated with the group it came from.
type TieredRecipient struct {
	Recipient Recipient
	Tier      AuthorityTier
	Group     string
}

// MultiRecipientConfig is an ordered collection of recipient groups.
type MultiRecipientConfig struct {
	Groups []*RecipientGroup

	// ValidateAuthority requires every group to be non-empty and forbids
	// group references inside elevated or emergency groups.
	ValidateAuthority bool

	// EnforceHierarchy keeps every (recipient, tier) pair when flattening
	// and orders the result by tier.
	EnforceHierarchy bool
}

// Validate checks group names are unique and, when requested, authority rules.
func (m *MultiRecipientConfig) Validate() error {
	if m == nil || len(m.Groups) == 0 {
		return fmt.Errorf("multi-recipient config has no groups")
	}

	seen := make(map[string]bool)
	for _, g := range m.Groups {
		if g == nil {
			return fmt.Errorf("multi-recipient config contains a nil group")
		}
		if seen[g.name] {
			return fmt.Errorf("recipient group %s listed twice", g.name)
		}
		seen[g.name] = true

		if !m.ValidateAuthority {
			continue
		}
		if g.Len() == 0 {
			return fmt.Errorf("recipient group %s has no recipients", g.name)
		}
		if g.tier > TierStandard {
			for _, r := range g.recipients {
				if r.IsGroupRef() {
					return fmt.Errorf("%s group %s may not reference group %s", g.tier, g.name, r.GroupName())
				}
			}
		}
	}
	return nil
}

// Flatten returns every recipient annotated with its originating tier and
// group. With EnforceHierarchy every occurrence is kept and the result is
// ordered by tier (stable within a tier). Without it, a recipient appearing
// in several groups is kept once, at its first occurrence.
func (m *MultiRecipientConfig) Flatten() []TieredRecipient {
	if m == nil {
		return nil
	}

	var flat []TieredRecipient
	for _, g := range m.Groups {
		for _, r := range g.recipients {
			flat = append(flat, TieredRecipient{Recipient: r, Tier: g.tier, Group: g.name})
		}
	}

	if m.EnforceHierarchy {
		sort.SliceStable(flat, func(i, j int) bool {
			return flat[i].Tier < flat[j].Tier
		})
		return flat
	}

	deduped := flat[:0:0]
	for _, tr := range flat {
		if !slices.ContainsFunc(deduped, func(existing TieredRecipient) bool {
			return existing.Recipient.Equal(tr.Recipient)
		}) {
			deduped = append(deduped, tr)
		}
	}
	return deduped
}

// Group looks up a group by name.
func (m *MultiRecipientConfig) Group(name string) (*RecipientGroup, bool) {
	if m == nil {
		return nil, false
	}
	for _, g := range m.Groups {
		if g.name == name {
			return g, true
		}
	}
	return nil, false
}
