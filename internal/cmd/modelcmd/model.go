// Package modelcmd manages downloaded inference model artifacts under
// <data_dir>/models/.
package modelcmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"github.com/watzon/mnemo/internal/config"
)

// knownModels maps model names to their artifact URLs.
var knownModels = map[string]string{
	"all-minilm-l6-v2": "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx",
	"bert-base-ner":    "https://huggingface.co/dslim/bert-base-NER/resolve/main/model.safetensors",
}

// Command returns the model helper sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Sources:     cli.EnvVars("MNEMO_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Directory holding model artifacts",
		},
	}
	return &cli.Command{
		Name:  "model",
		Usage: "Manage local inference model artifacts",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List known models and their download state",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					for name := range knownModels {
						state := "not downloaded"
						if _, err := os.Stat(modelPath(&cfg, name)); err == nil {
							state = "downloaded"
						}
						fmt.Printf("%-20s %s\n", name, state)
					}
					return nil
				},
			},
			{
				Name:      "download",
				Usage:     "Download a model artifact",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					url, ok := knownModels[name]
					if !ok {
						return fmt.Errorf("unknown model %q; known: %s", name, strings.Join(modelNames(), ", "))
					}
					return download(ctx, url, modelPath(&cfg, name))
				},
			},
			{
				Name:      "path",
				Usage:     "Print the local path of a model artifact",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().First()
					if _, ok := knownModels[name]; !ok {
						return fmt.Errorf("unknown model %q", name)
					}
					fmt.Println(modelPath(&cfg, name))
					return nil
				},
			},
		},
	}
}

func modelNames() []string {
	names := make([]string, 0, len(knownModels))
	for name := range knownModels {
		names = append(names, name)
	}
	return names
}

func modelPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.ModelsDir(), name+filepath.Ext(knownModels[name]))
}

// download fetches an artifact to a temp file and renames it into place so
// partial downloads never look complete.
func download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	log.Info("Model downloaded", "dest", dest, "bytes", n)
	return nil
}
