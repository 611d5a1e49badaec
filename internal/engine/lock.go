package engine

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"
)

func (e *Engine) lock(ctx context.Context, req *requests.LockRequest, inBatch bool) (*Result, error) {
	const op = string(requests.OpLock)

	if err := req.Claim(); err != nil {
		return nil, err
	}
	backend, err := e.backend(ctx)
	if err != nil {
		return nil, err
	}
	recipients, err := e.lockRecipients(req)
	if err != nil {
		return nil, err
	}

	files, err := resolveTargets(op, []string{req.Input}, req.Scope, notEncryptedName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx, req.Common())
	defer cancel()

	res := &Result{Operation: requests.OpLock, Backend: backend.Name(), DryRun: req.Common().DryRun}
	for _, src := range files {
		dst := req.Output
		switch {
		case req.InPlace:
			dst = src
		case req.Scope.Recursive:
			dst = src + requests.EncryptedExt
		}

		inv := Invocation{
			Recipients: recipients,
			Passphrase: req.Passphrase.Passphrase(),
			Armor:      e.armored(req.Format, dst),
		}
		fr, err := e.apply(ctx, mutation{
			op:      op,
			src:     src,
			dst:     dst,
			status:  StatusLocked,
			common:  req.Common(),
			inBatch: inBatch,
			transform: func(ctx context.Context, in, out string) error {
				inv := inv
				inv.Input, inv.Output = in, out
				return backend.Encrypt(ctx, inv)
			},
		})
		fr.Armored = inv.Armor
		res.add(fr)
		if err != nil {
			return res, err
		}
		e.log.Infof("Locked %s -> %s", src, dst)
	}
	return res, nil
}

// armored resolves the request's format, falling back to the configured
// one, against the output path.
func (e *Engine) armored(format configs.OutputFormat, output string) bool {
	if format == "" {
		format = e.cfg.Behavior.OutputFormat
	}
	return configs.ResolveOutputFormat(format, output) == configs.FormatArmor
}

// lockRecipients flattens the request's recipients into backend
// arguments. Group references are expanded from the configuration. With
// hierarchy enforcement, recipients above the request's tier are left out.
func (e *Engine) lockRecipients(req *requests.LockRequest) ([]string, error) {
	if req.Passphrase.IsPassphrase() {
		return nil, nil
	}

	var tiered []requests.TieredRecipient
	enforce := false
	if req.Multi != nil {
		tiered = req.Multi.Flatten()
		enforce = req.Multi.EnforceHierarchy
	} else {
		for _, r := range req.Recipients {
			tiered = append(tiered, requests.TieredRecipient{Recipient: r, Tier: req.Tier})
		}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(r requests.Recipient) {
		if s := r.String(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, tr := range tiered {
		if enforce && tr.Tier > req.Tier {
			continue
		}
		if !tr.Recipient.IsGroupRef() {
			add(tr.Recipient)
			continue
		}
		group, err := e.configGroup(string(requests.OpLock), tr.Recipient.GroupName())
		if err != nil {
			return nil, err
		}
		if enforce && group.Tier() > req.Tier {
			continue
		}
		for _, r := range group.Recipients() {
			add(r)
		}
	}

	if len(out) == 0 {
		return nil, kerrors.Validationf(string(requests.OpLock), "tier", "no recipients at or below the %s tier", req.Tier)
	}
	return out, nil
}

// expandRecipients resolves group references without tier filtering.
func (e *Engine) expandRecipients(op string, recipients []requests.Recipient) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, r := range recipients {
		expanded := []requests.Recipient{r}
		if r.IsGroupRef() {
			group, err := e.configGroup(op, r.GroupName())
			if err != nil {
				return nil, err
			}
			expanded = group.Recipients()
		}
		for _, x := range expanded {
			if s := x.String(); !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// configGroup loads a named group. Groups in the configuration may not
// reference other groups.
func (e *Engine) configGroup(op, name string) (*requests.RecipientGroup, error) {
	field := "recipient_groups." + name
	cfg, ok := e.cfg.RecipientGroup(name)
	if !ok {
		return nil, kerrors.WithContext(kerrors.Configuration(field, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, name)),
			kerrors.KindConfiguration, op, "", kerrors.StageConfig)
	}
	group, err := requests.GroupFromConfig(name, cfg)
	if err != nil {
		return nil, kerrors.WithContext(kerrors.Configuration(field, err), kerrors.KindConfiguration, op, "", kerrors.StageConfig)
	}
	for _, r := range group.Recipients() {
		if r.IsGroupRef() {
			return nil, kerrors.WithContext(kerrors.Configuration(field, fmt.Errorf("group %s references group %s", name, r.GroupName())),
				kerrors.KindConfiguration, op, "", kerrors.StageConfig)
		}
	}
	return group, nil
}
