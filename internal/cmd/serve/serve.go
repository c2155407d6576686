package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"github.com/watzon/mnemo/internal/config"
	registrycache "github.com/watzon/mnemo/internal/registry/cache"
	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
	registryembed "github.com/watzon/mnemo/internal/registry/embed"
	registrystore "github.com/watzon/mnemo/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/watzon/mnemo/internal/plugin/cache/noop"
	_ "github.com/watzon/mnemo/internal/plugin/cache/redis"
	_ "github.com/watzon/mnemo/internal/plugin/curator/disabled"
	_ "github.com/watzon/mnemo/internal/plugin/curator/remote"
	_ "github.com/watzon/mnemo/internal/plugin/embed/local"
	_ "github.com/watzon/mnemo/internal/plugin/embed/openai"
	_ "github.com/watzon/mnemo/internal/plugin/store/qdrant"
	_ "github.com/watzon/mnemo/internal/plugin/store/sqlitevec"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var allowedHosts string
	var timeoutSecs int = cfg.TimeoutSecs
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory proxy",
		Flags: flags(&cfg, &allowedHosts, &timeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if allowedHosts != "" {
				for _, h := range strings.Split(allowedHosts, ",") {
					if h = strings.TrimSpace(h); h != "" {
						cfg.AllowedHosts = append(cfg.AllowedHosts, h)
					}
				}
			}
			cfg.TimeoutSecs = timeoutSecs
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, allowedHosts *string, timeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "listen-addr",
			Category:    "Server:",
			Sources:     cli.EnvVars("MNEMO_LISTEN_ADDR"),
			Destination: &cfg.ListenAddr,
			Value:       cfg.ListenAddr,
			Usage:       "Address the proxy listens on",
		},
		&cli.StringFlag{
			Name:        "upstream-url",
			Category:    "Server:",
			Sources:     cli.EnvVars("MNEMO_UPSTREAM_URL"),
			Destination: &cfg.UpstreamURL,
			Usage:       "Default upstream for requests outside /p/{url}",
		},
		&cli.StringFlag{
			Name:        "allowed-hosts",
			Category:    "Server:",
			Sources:     cli.EnvVars("MNEMO_ALLOWED_HOSTS"),
			Destination: allowedHosts,
			Usage:       "Comma-separated host allowlist (exact or *.suffix); empty allows all",
		},
		&cli.IntFlag{
			Name:        "timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MNEMO_TIMEOUT_SECONDS"),
			Destination: timeoutSecs,
			Value:       *timeoutSecs,
			Usage:       "Per-request upstream timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "max-injection-tokens",
			Category:    "Server:",
			Sources:     cli.EnvVars("MNEMO_MAX_INJECTION_TOKENS"),
			Destination: &cfg.MaxInjectionTokens,
			Value:       cfg.MaxInjectionTokens,
			Usage:       "Token budget for the injected memory block",
		},

		// ── Storage ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MNEMO_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Directory holding the store and model artifacts",
		},
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MNEMO_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Store backend (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "max-memories-per-tier",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MNEMO_MAX_MEMORIES_PER_TIER"),
			Destination: &cfg.MaxMemoriesPerTier,
			Value:       cfg.MaxMemoriesPerTier,
			Usage:       "Tier capacity before eviction pressure builds",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Storage:",
			Sources:     cli.EnvVars("MNEMO_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host for the qdrant store backend",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "max-memories",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MNEMO_MAX_MEMORIES"),
			Destination: &cfg.MaxMemories,
			Value:       cfg.MaxMemories,
			Usage:       "Maximum memories injected per request",
		},
		&cli.FloatFlag{
			Name:        "relevance-threshold",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MNEMO_RELEVANCE_THRESHOLD"),
			Destination: &cfg.RelevanceThreshold,
			Value:       cfg.RelevanceThreshold,
			Usage:       "Minimum similarity for an injected memory",
		},
		&cli.BoolFlag{
			Name:        "deterministic",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("MNEMO_DETERMINISTIC"),
			Destination: &cfg.DeterministicMode,
			Usage:       "Quantize scores and tie-break for stable result ordering",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MNEMO_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MNEMO_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key for the openai embedder",
		},

		// ── Curator ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "curator-kind",
			Category:    "Curator:",
			Sources:     cli.EnvVars("MNEMO_CURATOR_KIND"),
			Destination: &cfg.CuratorType,
			Value:       cfg.CuratorType,
			Usage:       "Curator provider (" + strings.Join(registrycurator.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "curator-api-url",
			Category:    "Curator:",
			Sources:     cli.EnvVars("MNEMO_CURATOR_API_URL"),
			Destination: &cfg.CuratorAPIURL,
			Usage:       "OpenAI-compatible endpoint for the remote curator",
		},
		&cli.StringFlag{
			Name:        "curator-model",
			Category:    "Curator:",
			Sources:     cli.EnvVars("MNEMO_CURATOR_MODEL"),
			Destination: &cfg.CuratorModel,
			Usage:       "Model name for the remote curator",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MNEMO_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Result cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MNEMO_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the redis cache",
		},

		// ── Workers ───────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "compaction-interval",
			Category:    "Workers:",
			Sources:     cli.EnvVars("MNEMO_COMPACTION_INTERVAL"),
			Destination: &cfg.CompactionInterval,
			Value:       cfg.CompactionInterval,
			Usage:       "Background compaction interval (0 disables)",
		},
		&cli.DurationFlag{
			Name:        "eviction-interval",
			Category:    "Workers:",
			Sources:     cli.EnvVars("MNEMO_EVICTION_INTERVAL"),
			Destination: &cfg.EvictionInterval,
			Value:       cfg.EvictionInterval,
			Usage:       "Background eviction interval (0 disables)",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
