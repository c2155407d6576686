package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/storage/compaction"
)

// CompactionService periodically sweeps every tier through the compactor.
type CompactionService struct {
	compactor *compaction.Compactor
	interval  time.Duration
}

// NewCompactionService creates the background compaction worker. A zero
// interval disables it.
func NewCompactionService(compactor *compaction.Compactor, interval time.Duration) *CompactionService {
	return &CompactionService{compactor: compactor, interval: interval}
}

// Start begins the periodic compaction loop. Returns when ctx is cancelled.
func (s *CompactionService) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Info("Background compaction disabled")
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

func (s *CompactionService) runPass(ctx context.Context) {
	for _, tier := range []model.Tier{model.TierHot, model.TierWarm, model.TierCold} {
		if _, err := s.compactor.Compact(ctx, tier); err != nil {
			log.Error("Compaction: pass failed", "tier", tier, "err", err)
		}
	}
}
