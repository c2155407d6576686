package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"github.com/watzon/mnemo/internal/cmd/memorycmd"
	"github.com/watzon/mnemo/internal/cmd/modelcmd"
	"github.com/watzon/mnemo/internal/cmd/serve"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "mnemo",
		Usage: "Local-first memory proxy for LLM chat requests",
		Commands: []*cli.Command{
			serve.Command(),
			memorycmd.Command(),
			memorycmd.TierCommand(),
			modelcmd.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
