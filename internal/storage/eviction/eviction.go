// Package eviction enforces per-tier capacity by tombstoning and deleting
// the lowest-priority memories once a tier crosses its pressure thresholds.
package eviction

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/metrics"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// Config holds eviction thresholds and protection settings.
type Config struct {
	WarningThreshold    float64
	EvictionThreshold   float64
	AggressiveThreshold float64
	RecentAccessHours   float64
	MinWeightProtected  float64
	MaxMemoriesPerTier  int
	Weight              weight.Config
}

// DefaultConfig returns the standard eviction policy.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:    0.70,
		EvictionThreshold:   0.80,
		AggressiveThreshold: 0.95,
		RecentAccessHours:   24,
		MinWeightProtected:  0.7,
		MaxMemoriesPerTier:  10000,
		Weight:              weight.DefaultConfig(),
	}
}

// CapacityStatus classifies how full a tier is.
type CapacityStatus string

const (
	StatusNormal             CapacityStatus = "normal"
	StatusWarning            CapacityStatus = "warning"
	StatusEvictionNeeded     CapacityStatus = "eviction_needed"
	StatusAggressiveEviction CapacityStatus = "aggressive_eviction_needed"
)

// Evictor ranks and removes memories under storage pressure.
type Evictor struct {
	store registrystore.Store
	cfg   Config
}

// NewEvictor creates an evictor.
func NewEvictor(store registrystore.Store, cfg Config) *Evictor {
	return &Evictor{store: store, cfg: cfg}
}

// Status maps a tier's fill ratio onto a capacity status.
func (e *Evictor) Status(ctx context.Context, tier model.Tier) (CapacityStatus, int64, error) {
	count, err := e.store.CountByTier(ctx, tier)
	if err != nil {
		return StatusNormal, 0, err
	}
	ratio := float64(count) / float64(e.cfg.MaxMemoriesPerTier)
	switch {
	case ratio >= e.cfg.AggressiveThreshold:
		return StatusAggressiveEviction, count, nil
	case ratio >= e.cfg.EvictionThreshold:
		return StatusEvictionNeeded, count, nil
	case ratio >= e.cfg.WarningThreshold:
		return StatusWarning, count, nil
	default:
		return StatusNormal, count, nil
	}
}

// protected reports whether a memory is never evicted: recently accessed or
// heavy enough.
func (e *Evictor) protected(m *model.Memory, now time.Time) bool {
	if now.Sub(m.LastAccessed).Hours() < e.cfg.RecentAccessHours {
		return true
	}
	return float64(m.Weight) >= e.cfg.MinWeightProtected
}

// Priority is the keep score: higher survives longer. Combines effective
// weight with a recency bonus; the association bonus is a reserved slot for
// a future memory-graph score.
func (e *Evictor) Priority(m *model.Memory, now time.Time) float64 {
	hoursSince := now.Sub(m.LastAccessed).Hours()
	if hoursSince < 0 {
		hoursSince = 0
	}
	recencyBonus := 0.3 / (1 + hoursSince/24)
	associationBonus := 0.0
	return weight.Effective(m, now, e.cfg.Weight) + recencyBonus + associationBonus
}

type candidate struct {
	m        *model.Memory
	priority float64
}

// rankCandidates lists a tier, drops protected memories, and sorts the rest
// by ascending priority (evict first at the front).
func (e *Evictor) rankCandidates(ctx context.Context, tier model.Tier, now time.Time) ([]candidate, error) {
	ms, err := e.store.ListByTier(ctx, tier)
	if err != nil {
		return nil, err
	}
	candidates := make([]candidate, 0, len(ms))
	for _, m := range ms {
		if e.protected(m, now) {
			continue
		}
		candidates = append(candidates, candidate{m: m, priority: e.Priority(m, now)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})
	return candidates, nil
}

// Candidates previews the eviction order for a tier without mutating
// anything.
func (e *Evictor) Candidates(ctx context.Context, tier model.Tier, limit int) ([]*model.Memory, error) {
	ranked, err := e.rankCandidates(ctx, tier, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]*model.Memory, len(ranked))
	for i, c := range ranked {
		out[i] = c.m
	}
	return out, nil
}

// EvictIfNeeded brings an over-capacity tier back under its target ratio.
// Every removed memory gets a tombstone before the delete; the returned ids
// are the evicted memories in eviction order.
func (e *Evictor) EvictIfNeeded(ctx context.Context, tier model.Tier) ([]uuid.UUID, error) {
	status, count, err := e.Status(ctx, tier)
	if err != nil {
		return nil, err
	}
	if status == StatusNormal || status == StatusWarning {
		return nil, nil
	}

	targetRatio := e.cfg.EvictionThreshold - 0.05
	reason := model.ReasonLowWeight
	if status == StatusAggressiveEviction {
		targetRatio = e.cfg.WarningThreshold
		reason = model.ReasonStoragePressure
	}
	target := int64(float64(e.cfg.MaxMemoriesPerTier) * targetRatio)
	if count <= target {
		return nil, nil
	}
	toEvict := count - target

	now := time.Now().UTC()
	ranked, err := e.rankCandidates(ctx, tier, now)
	if err != nil {
		return nil, err
	}

	log.Info("Eviction: starting", "tier", tier, "status", status,
		"count", count, "target", target)

	var evicted []uuid.UUID
	for _, c := range ranked {
		if int64(len(evicted)) >= toEvict {
			break
		}
		if err := e.store.InsertTombstone(ctx, model.NewTombstone(c.m, reason)); err != nil {
			log.Error("Eviction: tombstone failed", "id", c.m.ID, "err", err)
			continue
		}
		if _, err := e.store.Delete(ctx, c.m.ID); err != nil {
			log.Error("Eviction: delete failed", "id", c.m.ID, "err", err)
			continue
		}
		evicted = append(evicted, c.m.ID)
		metrics.MemoriesEvicted.Inc()
	}

	log.Info("Eviction: completed", "tier", tier, "evicted", len(evicted))
	return evicted, nil
}
