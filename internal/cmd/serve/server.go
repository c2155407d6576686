package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/memory/ingestion"
	"github.com/watzon/mnemo/internal/memory/retrieval"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/proxy"
	registrycache "github.com/watzon/mnemo/internal/registry/cache"
	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
	registryembed "github.com/watzon/mnemo/internal/registry/embed"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"github.com/watzon/mnemo/internal/router"
	"github.com/watzon/mnemo/internal/service"
	"github.com/watzon/mnemo/internal/storage/compaction"
	"github.com/watzon/mnemo/internal/storage/eviction"
	"github.com/watzon/mnemo/internal/storage/tiers"
)

// Server holds the running proxy and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.Store
	Proxy  *proxy.Server
}

// Shutdown gracefully stops the proxy and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Proxy.Shutdown(ctx)
	if cerr := s.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// StartServer initializes every subsystem and starts the proxy listener.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting mnemo",
		"listenAddr", cfg.ListenAddr,
		"store", cfg.StoreType,
		"embedding", cfg.EmbedType,
		"curator", cfg.CuratorType,
		"deterministic", cfg.DeterministicMode,
	)

	// The store's dimension follows the active embedder.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	cfg.EmbedDimension = embedder.Dimension()

	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	weightCfg := weight.Config{
		AccessMultiplier:    cfg.AccessMultiplier,
		DecayRate:           cfg.DecayRate,
		EmotionalMultiplier: cfg.EmotionalMultiplier,
	}

	tierManager := tiers.NewManager(store, tiers.Config{
		AccessPromoteThreshold: cfg.AccessPromoteThreshold,
	})

	retrievalOpts := []retrieval.Option{retrieval.WithTierManager(tierManager)}
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if resultCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else if resultCache.Name() != "noop" {
		retrievalOpts = append(retrievalOpts, retrieval.WithResultCache(resultCache))
	}

	retriever, err := retrieval.NewPipeline(store, embedder, retrieval.Config{
		CandidateMultiplier: cfg.CandidateMultiplier,
		SimilarityWeight:    cfg.SimilarityWeight,
		RerankWeight:        cfg.RerankWeight,
		Weight:              weightCfg,
		Deterministic: retrieval.DeterministicConfig{
			Enabled:            cfg.DeterministicMode,
			DecimalPlaces:      cfg.DecimalPlaces,
			TopicOverlapWeight: cfg.TopicOverlapWeight,
		},
	}, retrievalOpts...)
	if err != nil {
		store.Close()
		return nil, err
	}

	rt := router.NewHeuristic()
	ingester := ingestion.NewPipeline(store, embedder, rt, weightCfg)

	var cur registrycurator.Curator
	if cfg.CuratorType != "" && cfg.CuratorType != "disabled" {
		curatorLoader, err := registrycurator.Select(cfg.CuratorType)
		if err != nil {
			log.Warn("Curator not available", "err", err)
		} else if cur, err = curatorLoader(ctx); err != nil {
			log.Warn("Failed to initialize curator", "err", err)
			cur = nil
		}
	}

	// Background maintenance workers.
	compactor := compaction.NewCompactor(store, compaction.Config{
		SummaryAgeDays:        cfg.SummaryAgeDays,
		KeywordsAgeDays:       cfg.KeywordsAgeDays,
		MinWeightProtected:    cfg.MinWeightProtected,
		SummaryMaxSentences:   cfg.SummaryMaxSentences,
		KeywordsMaxCount:      cfg.KeywordsMaxCount,
		KeywordsMinWordLength: cfg.KeywordsMinWordLength,
	})
	go service.NewCompactionService(compactor, cfg.CompactionInterval).Start(ctx)

	evictor := eviction.NewEvictor(store, eviction.Config{
		WarningThreshold:    cfg.WarningThreshold,
		EvictionThreshold:   cfg.EvictionThreshold,
		AggressiveThreshold: cfg.AggressiveThreshold,
		RecentAccessHours:   cfg.RecentAccessHours,
		MinWeightProtected:  cfg.MinWeightProtected,
		MaxMemoriesPerTier:  cfg.MaxMemoriesPerTier,
		Weight:              weightCfg,
	})
	go service.NewEvictionService(evictor, cfg.EvictionInterval).Start(ctx)

	p := proxy.NewServer(cfg, retriever, ingester, rt, cur)
	if err := p.Start(); err != nil {
		store.Close()
		return nil, err
	}

	return &Server{Config: cfg, Store: store, Proxy: p}, nil
}
