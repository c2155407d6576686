// Package tiers classifies memories into Hot/Warm/Cold and migrates between
// them on access or operator command. Tiers are logical labels on the same
// physical table in this release; a separate cold archive table is reserved
// for future use.
package tiers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// Config holds tier policy settings.
type Config struct {
	// AccessPromoteThreshold is the access count at which a memory is
	// promoted toward Hot.
	AccessPromoteThreshold int32
}

// DefaultConfig returns the standard tier policy.
func DefaultConfig() Config {
	return Config{AccessPromoteThreshold: 5}
}

// MismatchError is returned when a migration's expected source tier does
// not match the memory's current tier.
type MismatchError struct {
	ID       uuid.UUID
	Expected model.Tier
	Actual   model.Tier
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("memory %s is in tier %s, expected %s", e.ID, e.Actual, e.Expected)
}

// Manager applies tier migrations against the store.
type Manager struct {
	store registrystore.Store
	cfg   Config
}

// NewManager creates a tier manager.
func NewManager(store registrystore.Store, cfg Config) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Promote returns the next tier toward Hot. Hot promotes to itself.
func Promote(t model.Tier) model.Tier {
	switch t {
	case model.TierCold:
		return model.TierWarm
	case model.TierWarm:
		return model.TierHot
	default:
		return model.TierHot
	}
}

// Demote returns the next tier away from Hot. Cold demotes to itself.
func Demote(t model.Tier) model.Tier {
	switch t {
	case model.TierHot:
		return model.TierWarm
	case model.TierWarm:
		return model.TierCold
	default:
		return model.TierCold
	}
}

// Migrate moves a memory from one tier to another. The current tier must
// equal from; a same-tier migration is a no-op. All other fields, including
// embedding, content and access stats, are preserved.
func (mg *Manager) Migrate(ctx context.Context, id uuid.UUID, from, to model.Tier) error {
	m, err := mg.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return &registrystore.NotFoundError{ID: id}
	}
	if m.Tier != from {
		return &MismatchError{ID: id, Expected: from, Actual: m.Tier}
	}
	if from == to {
		return nil
	}
	return mg.store.UpdateTier(ctx, id, to)
}

// ShouldPromote reports whether the memory qualifies for promotion: not yet
// Hot and accessed at least the configured number of times.
func (mg *Manager) ShouldPromote(ctx context.Context, id uuid.UUID) (bool, error) {
	m, err := mg.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, &registrystore.NotFoundError{ID: id}
	}
	return m.Tier != model.TierHot && m.AccessCount >= mg.cfg.AccessPromoteThreshold, nil
}

// CheckAndPromote applies a single promotion step when the memory
// qualifies and reports whether it fired. Intended to be called after
// UpdateAccess.
func (mg *Manager) CheckAndPromote(ctx context.Context, id uuid.UUID) (bool, error) {
	m, err := mg.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, &registrystore.NotFoundError{ID: id}
	}
	if m.Tier == model.TierHot || m.AccessCount < mg.cfg.AccessPromoteThreshold {
		return false, nil
	}
	if err := mg.store.UpdateTier(ctx, id, Promote(m.Tier)); err != nil {
		return false, err
	}
	return true, nil
}
