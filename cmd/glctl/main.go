package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	root := cli.NewRootCommand(cli.Dependencies{
		OpenLedger: func(ctx context.Context) (cli.Ledger, func(), error) {
			backends, err := app.OpenBackends(ctx, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			release := backends.Close
			deps := app.EngineDeps{}
			if backends.Redis != nil {
				client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
				if err != nil {
					backends.Close()
					return nil, nil, err
				}
				deps.Notifier = client
				release = func() {
					_ = client.Close()
					backends.Close()
				}
			}
			engine, err := app.NewEngine(ctx, cfg, backends, logger, deps)
			if err != nil {
				release()
				return nil, nil, err
			}
			return engine, release, nil
		},
		OpenJobs: func() (*cli.JobsCLI, error) {
			return cli.NewJobsCLI(cfg.RedisAddr)
		},
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
