package requests

import (
	"errors"
	"testing"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

func mustRecipient(t *testing.T, s string) Recipient {
	t.Helper()

	r, err := ParseRecipient(s)
	if err != nil {
		t.Fatalf("ParseRecipient(%q) failed: %v", s, err)
	}
	return r
}

func TestRecipientGroupPreservesOrderAndRejectsDuplicates(t *testing.T) {
	a := mustRecipient(t, testAgeRecipient('q'))
	b := mustRecipient(t, testAgeRecipient('p'))

	g, err := NewRecipientGroup("devs", TierStandard, b, a)
	if err != nil {
		t.Fatalf("NewRecipientGroup failed: %v", err)
	}
	got := g.Recipients()
	if !got[0].Equal(b) || !got[1].Equal(a) {
		t.Errorf("Expected insertion order preserved, got %v", got)
	}

	if err := g.Add(a); !errors.Is(err, kerrors.ErrDuplicateRecipient) {
		t.Errorf("Expected ErrDuplicateRecipient, got %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Expected 2 recipients, got %d", g.Len())
	}

	// Mutating the returned slice must not affect the group.
	got[0] = a
	if !g.Recipients()[0].Equal(b) {
		t.Error("Recipients returned an aliased slice")
	}
}

func TestRecipientGroupRetier(t *testing.T) {
	g, err := NewRecipientGroup("ops", TierStandard, mustRecipient(t, testAgeRecipient('q')))
	if err != nil {
		t.Fatalf("NewRecipientGroup failed: %v", err)
	}
	if err := g.Retier(TierEmergency); err != nil {
		t.Fatalf("Retier failed: %v", err)
	}
	if g.Tier() != TierEmergency {
		t.Errorf("Expected emergency tier, got %s", g.Tier())
	}
	if err := g.Retier(AuthorityTier(9)); err == nil {
		t.Error("Expected error for invalid tier")
	}
	if g.Tier() != TierEmergency {
		t.Error("Failed retier changed the tier")
	}
}

func TestFlattenWithHierarchyKeepsEveryRecipientAndTier(t *testing.T) {
	shared := mustRecipient(t, testAgeRecipient('q'))
	dev := mustRecipient(t, testAgeRecipient('p'))
	oncall := mustRecipient(t, testAgeRecipient('z'))

	emergency, _ := NewRecipientGroup("break-glass", TierEmergency, shared, oncall)
	standard, _ := NewRecipientGroup("devs", TierStandard, dev, shared)
	elevated, _ := NewRecipientGroup("leads", TierElevated, shared)

	multi := &MultiRecipientConfig{
		Groups:            []*RecipientGroup{emergency, standard, elevated},
		ValidateAuthority: true,
		EnforceHierarchy:  true,
	}
	if err := multi.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	flat := multi.Flatten()
	if len(flat) != 5 {
		t.Fatalf("Expected all 5 memberships, got %d: %v", len(flat), flat)
	}

	want := []struct {
		recipient Recipient
		tier      AuthorityTier
		group     string
	}{
		{dev, TierStandard, "devs"},
		{shared, TierStandard, "devs"},
		{shared, TierElevated, "leads"},
		{shared, TierEmergency, "break-glass"},
		{oncall, TierEmergency, "break-glass"},
	}
	for i, w := range want {
		if !flat[i].Recipient.Equal(w.recipient) || flat[i].Tier != w.tier || flat[i].Group != w.group {
			t.Errorf("Entry %d: expected %s/%s/%s, got %s/%s/%s",
				i, w.recipient, w.tier, w.group, flat[i].Recipient, flat[i].Tier, flat[i].Group)
		}
	}
}

func TestFlattenWithoutHierarchyDeduplicates(t *testing.T) {
	shared := mustRecipient(t, testAgeRecipient('q'))
	dev := mustRecipient(t, testAgeRecipient('p'))

	emergency, _ := NewRecipientGroup("break-glass", TierEmergency, shared)
	standard, _ := NewRecipientGroup("devs", TierStandard, dev, shared)

	flat := (&MultiRecipientConfig{Groups: []*RecipientGroup{emergency, standard}}).Flatten()
	if len(flat) != 2 {
		t.Fatalf("Expected 2 unique recipients, got %d", len(flat))
	}
	if flat[0].Tier != TierEmergency || flat[0].Group != "break-glass" {
		t.Errorf("Expected first occurrence to win, got %s from %s", flat[0].Tier, flat[0].Group)
	}
}

func TestMultiRecipientValidateAuthority(t *testing.T) {
	empty, _ := NewRecipientGroup("empty", TierStandard)
	multi := &MultiRecipientConfig{Groups: []*RecipientGroup{empty}, ValidateAuthority: true}
	if err := multi.Validate(); err == nil {
		t.Error("Expected empty group to be rejected")
	}

	nested, _ := NewRecipientGroup("leads", TierElevated, GroupReference("devs"))
	multi = &MultiRecipientConfig{Groups: []*RecipientGroup{nested}, ValidateAuthority: true}
	if err := multi.Validate(); err == nil {
		t.Error("Expected group reference in elevated group to be rejected")
	}

	a, _ := NewRecipientGroup("dup", TierStandard, mustRecipient(t, testAgeRecipient('q')))
	b, _ := NewRecipientGroup("dup", TierStandard, mustRecipient(t, testAgeRecipient('p')))
	multi = &MultiRecipientConfig{Groups: []*RecipientGroup{a, b}}
	if err := multi.Validate(); err == nil {
		t.Error("Expected duplicate group names to be rejected")
	}
}

func TestGroupConfigRoundTrip(t *testing.T) {
	cfg := configs.RecipientGroupConfig{
		Tier:       "elevated",
		Recipients: []string{testAgeRecipient('q'), testAgeRecipient('p')},
		Metadata:   map[string]string{"owner": "platform"},
	}

	g, err := GroupFromConfig("leads", cfg)
	if err != nil {
		t.Fatalf("GroupFromConfig failed: %v", err)
	}
	if g.Tier() != TierElevated || g.Len() != 2 {
		t.Errorf("Unexpected group %s tier %s len %d", g.Name(), g.Tier(), g.Len())
	}

	back := g.Config()
	if back.Tier != cfg.Tier || len(back.Recipients) != 2 || back.Recipients[1] != cfg.Recipients[1] {
		t.Errorf("Round trip mismatch: %+v", back)
	}
	if back.Metadata["owner"] != "platform" {
		t.Errorf("Expected metadata to survive, got %v", back.Metadata)
	}

	if _, err := GroupFromConfig("bad", configs.RecipientGroupConfig{Tier: "root", Recipients: cfg.Recipients}); err == nil {
		t.Error("Expected unknown tier to be rejected")
	}
}
