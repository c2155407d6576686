// Package memorycmd is the administration surface: memory CRUD plus
// tier-at-a-time compaction and eviction.
package memorycmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/memory/ingestion"
	"github.com/watzon/mnemo/internal/model"
	registryembed "github.com/watzon/mnemo/internal/registry/embed"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"github.com/watzon/mnemo/internal/router"

	_ "github.com/watzon/mnemo/internal/plugin/embed/local"
	_ "github.com/watzon/mnemo/internal/plugin/embed/openai"
	_ "github.com/watzon/mnemo/internal/plugin/store/qdrant"
	_ "github.com/watzon/mnemo/internal/plugin/store/sqlitevec"
)

// Command returns the memory administration sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and manage stored memories",
		Flags: storeFlags(&cfg),
		Commands: []*cli.Command{
			listCommand(&cfg),
			showCommand(&cfg),
			addCommand(&cfg),
			deleteCommand(&cfg),
			globalizeCommand(&cfg),
			tombstonesCommand(&cfg),
		},
	}
}

func storeFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Sources:     cli.EnvVars("MNEMO_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Directory holding the store",
		},
		&cli.StringFlag{
			Name:        "store-kind",
			Sources:     cli.EnvVars("MNEMO_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Store backend",
		},
		&cli.StringFlag{
			Name:        "embedding-kind",
			Sources:     cli.EnvVars("MNEMO_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Emit JSON instead of a table",
		},
	}
}

// openStore loads the embedder (to fix the dimension) and the store.
func openStore(ctx context.Context, cfg *config.Config) (context.Context, registrystore.Store, registryembed.Embedder, error) {
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return ctx, nil, nil, err
	}
	ctx = config.WithContext(ctx, cfg)
	embedder, err := embedLoader(ctx)
	if err != nil {
		return ctx, nil, nil, err
	}
	cfg.EmbedDimension = embedder.Dimension()

	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return ctx, nil, nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return ctx, nil, nil, err
	}
	return ctx, store, embedder, nil
}

func listCommand(cfg *config.Config) *cli.Command {
	var tierFlag, typeFlag, sessionFlag string
	return &cli.Command{
		Name:  "list",
		Usage: "List memories by tier, type, or session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tier", Destination: &tierFlag, Value: "hot", Usage: "Tier to list (hot|warm|cold)"},
			&cli.StringFlag{Name: "type", Destination: &typeFlag, Usage: "Restrict to a memory type"},
			&cli.StringFlag{Name: "session", Destination: &sessionFlag, Usage: "Restrict to a conversation id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tier, err := model.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ms, err := store.ListByTier(ctx, tier)
			if err != nil {
				return err
			}
			if typeFlag != "" {
				typ, err := model.ParseMemoryType(typeFlag)
				if err != nil {
					return err
				}
				ms = filterMemories(ms, func(m *model.Memory) bool { return m.Type == typ })
			}
			if sessionFlag != "" {
				ms = filterMemories(ms, func(m *model.Memory) bool {
					return m.ConversationID != nil && *m.ConversationID == sessionFlag
				})
			}

			if cmd.Bool("json") {
				return printJSON(ms)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTIER\tWEIGHT\tACCESS\tCREATED\tCONTENT")
			for _, m := range ms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\t%s\n",
					m.ID, m.Type, m.Tier, m.Weight, m.AccessCount,
					m.CreatedAt.Format("2006-01-02"), clip(m.Content, 60))
			}
			return w.Flush()
		},
	}
}

func showCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one memory by id",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
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
			return printJSON(m)
		},
	}
}

func addCommand(cfg *config.Config) *cli.Command {
	var sessionFlag string
	return &cli.Command{
		Name:      "add",
		Usage:     "Manually store a memory",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Destination: &sessionFlag, Usage: "Attach to a conversation id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			_, store, embedder, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var conversationID *string
			if sessionFlag != "" {
				conversationID = &sessionFlag
			}
			pipeline := ingestion.NewPipeline(store, embedder, router.NewHeuristic(), weightConfig(cfg))
			m, err := pipeline.Ingest(ctx, text, model.SourceManual, conversationID)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("text too short to store (minimum 10 characters)")
			}
			fmt.Printf("stored %s\n", m.ID)
			return nil
		},
	}
}

func deleteCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a memory, leaving a tombstone",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
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
			if err := store.InsertTombstone(ctx, model.NewTombstone(m, model.ReasonManualDeletion)); err != nil {
				return err
			}
			if _, err := store.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", id)
			return nil
		},
	}
}

func globalizeCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "globalize",
		Usage:     "Detach a memory from its conversation",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := uuid.Parse(cmd.Args().First())
			if err != nil {
				return fmt.Errorf("invalid memory id: %w", err)
			}
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			updated, err := store.UpdateConversationID(ctx, id, nil)
			if err != nil {
				return err
			}
			if !updated {
				return fmt.Errorf("memory %s not found", id)
			}
			fmt.Printf("globalized %s\n", id)
			return nil
		},
	}
}

func tombstonesCommand(cfg *config.Config) *cli.Command {
	var topicFlag string
	return &cli.Command{
		Name:  "tombstones",
		Usage: "List eviction tombstones",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Destination: &topicFlag, Usage: "Filter by topic substring"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, store, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var ts []*model.Tombstone
			if topicFlag != "" {
				ts, err = store.SearchTombstonesByTopic(ctx, topicFlag)
			} else {
				ts, err = store.ListAllTombstones(ctx)
			}
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(ts)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORIGINAL_ID\tEVICTED\tREASON\tTOPICS")
			for _, t := range ts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					t.OriginalID, t.EvictedAt.Format("2006-01-02"), t.Reason,
					strings.Join(t.Topics, ", "))
			}
			return w.Flush()
		},
	}
}

func filterMemories(ms []*model.Memory, keep func(*model.Memory) bool) []*model.Memory {
	out := ms[:0]
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
