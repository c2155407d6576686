package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/storage/eviction"
)

// EvictionService periodically checks tier capacity and evicts when a tier
// crosses its pressure thresholds.
type EvictionService struct {
	evictor  *eviction.Evictor
	interval time.Duration
}

// NewEvictionService creates the background eviction worker. A zero
// interval disables it.
func NewEvictionService(evictor *eviction.Evictor, interval time.Duration) *EvictionService {
	return &EvictionService{evictor: evictor, interval: interval}
}

// Start begins the periodic eviction loop. Returns when ctx is cancelled.
func (s *EvictionService) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Info("Background eviction disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *EvictionService) runPass(ctx context.Context) {
	for _, tier := range []model.Tier{model.TierHot, model.TierWarm, model.TierCold} {
		evicted, err := s.evictor.EvictIfNeeded(ctx, tier)
		if err != nil {
			log.Error("Eviction: pass failed", "tier", tier, "err", err)
			continue
		}
		if len(evicted) > 0 {
			log.Info("Eviction: background pass evicted", "tier", tier, "count", len(evicted))
		}
	}
}
