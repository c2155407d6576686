package memorycmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/storage/compaction"
	"github.com/watzon/mnemo/internal/storage/eviction"
	"github.com/watzon/mnemo/internal/storage/tiers"
)

// TierCommand returns the tier maintenance sub-command.
func TierCommand() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "tier",
		Usage: "Tier-at-a-time maintenance: stats, compaction, eviction",
		Flags: storeFlags(&cfg),
		Commands: []*cli.Command{
			tierStatsCommand(&cfg),
			tierCompactCommand(&cfg),
			tierEvictCommand(&cfg),
			tierPromoteCommand(&cfg),
			tierDemoteCommand(&cfg),
		},
	}
}

func weightConfig(cfg *config.Config) weight.Config {
	return weight.Config{
		AccessMultiplier:    cfg.AccessMultiplier,
		DecayRate:           cfg.DecayRate,
		EmotionalMultiplier: cfg.EmotionalMultiplier,
	}
}

func parseTierArg(cmd *cli.Command) (model.Tier, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return "", fmt.Errorf("tier argument required (hot|warm|cold)")
	}
	return model.ParseTier(arg)
}

func tierStatsCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show per-tier counts and capacity status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			evictor := eviction.NewEvictor(store, evictionConfig(cfg))
			stats := map[string]any{}
			for _, tier := range []model.Tier{model.TierHot, model.TierWarm, model.TierCold} {
				status, count, err := evictor.Status(ctx, tier)
				if err != nil {
					return err
				}
				stats[string(tier)] = map[string]any{
					"count":  count,
					"status": status,
				}
			}
			total, err := store.TotalCount(ctx)
			if err != nil {
				return err
			}
			stats["total"] = total
			return printJSON(stats)
		},
	}
}

func tierCompactCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "Compact one tier's aged memories",
		ArgsUsage: "<tier>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tier, err := parseTierArg(cmd)
			if err != nil {
				return err
			}
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			compactor := compaction.NewCompactor(store, compaction.Config{
				SummaryAgeDays:        cfg.SummaryAgeDays,
				KeywordsAgeDays:       cfg.KeywordsAgeDays,
				MinWeightProtected:    cfg.MinWeightProtected,
				SummaryMaxSentences:   cfg.SummaryMaxSentences,
				KeywordsMaxCount:      cfg.KeywordsMaxCount,
				KeywordsMinWordLength: cfg.KeywordsMinWordLength,
			})
			report, err := compactor.Compact(ctx, tier)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func evictionConfig(cfg *config.Config) eviction.Config {
	return eviction.Config{
		WarningThreshold:    cfg.WarningThreshold,
		EvictionThreshold:   cfg.EvictionThreshold,
		AggressiveThreshold: cfg.AggressiveThreshold,
		RecentAccessHours:   cfg.RecentAccessHours,
		MinWeightProtected:  cfg.MinWeightProtected,
		MaxMemoriesPerTier:  cfg.MaxMemoriesPerTier,
		Weight:              weightConfig(cfg),
	}
}

func tierEvictCommand(cfg *config.Config) *cli.Command {
	var dryRun bool
	return &cli.Command{
		Name:      "evict",
		Usage:     "Evict one tier back under capacity",
		ArgsUsage: "<tier>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Destination: &dryRun, Usage: "Preview candidates without evicting"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tier, err := parseTierArg(cmd)
			if err != nil {
				return err
			}
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			evictor := eviction.NewEvictor(store, evictionConfig(cfg))
			if dryRun {
				candidates, err := evictor.Candidates(ctx, tier, 20)
				if err != nil {
					return err
				}
				return printJSON(candidates)
			}
			evicted, err := evictor.EvictIfNeeded(ctx, tier)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"evicted_ids": evicted})
		},
	}
}

func tierPromoteCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "promote",
		Usage:     "Move a memory one tier toward hot",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return migrateOne(ctx, cfg, cmd, tiers.Promote)
		},
	}
}

func tierDemoteCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "demote",
		Usage:     "Move a memory one tier toward cold",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return migrateOne(ctx, cfg, cmd, tiers.Demote)
		},
	}
}

func migrateOne(ctx context.Context, cfg *config.Config, cmd *cli.Command, step func(model.Tier) model.Tier) error {
	id, err := uuid.Parse(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("invalid memory id: %w", err)
	}
	_, store, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("memory %s not found", id)
	}
	mgr := tiers.NewManager(store, tiers.Config{AccessPromoteThreshold: cfg.AccessPromoteThreshold})
	if err := mgr.Migrate(ctx, id, m.Tier, step(m.Tier)); err != nil {
		return err
	}
	fmt.Printf("%s: %s -> %s\n", id, m.Tier, step(m.Tier))
	return nil
}
