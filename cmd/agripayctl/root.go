package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/agripay/internal/apikey"
	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/config"
	"github.com/kiranshivaraju/agripay/internal/health"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/internal/tiler"
	"github.com/kiranshivaraju/agripay/internal/webodm"
)

// cli carries what the commands touch outside the process, so tests can
// swap it.
type cli struct {
	out        io.Writer
	loadConfig func() (*config.Config, error)
	openKeys   func(ctx context.Context, cfg *config.Config) (apikey.Creator, func(), error)
	migrate    func(databaseURL string) error
	monitor    func(cfg *config.Config) (*health.Monitor, []string, error)

	cfg *config.Config
}

func defaultCLI() *cli {
	return &cli{
		out:        os.Stdout,
		loadConfig: config.Load,
		openKeys: func(ctx context.Context, cfg *config.Config) (apikey.Creator, func(), error) {
			pool, err := store.Connect(ctx, cfg.Database)
			if err != nil {
				return nil, nil, err
			}
			return store.NewPostgresStore(pool), pool.Close, nil
		},
		migrate: store.RunMigrations,
		monitor: upstreamMonitor,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "agripayctl",
		Short:        "Operator tasks for the agripay gateway",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg != nil {
				return nil
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.AddCommand(newMigrateCmd(c), newKeysCmd(c), newHealthCmd(c))
	return root
}

// upstreamMonitor registers a check for every configured upstream and
// returns their names in display order.
func upstreamMonitor(cfg *config.Config) (*health.Monitor, []string, error) {
	httpClient := remote.NewHTTPClient(cfg.HTTP.Timeout)
	m := health.NewMonitor(cfg.HTTP.HealthCheckInterval, slog.Default())
	var names []string

	if t := tiler.NewClient(cfg.Tiler.BaseURL, httpClient, cfg.HTTP.HealthCheckTimeout); t.Configured() {
		m.Register("tiler", t.Health)
		names = append(names, "tiler")
	}
	if o := webodm.NewClient(cfg.WebODM.BaseURL, cfg.WebODM.Username, cfg.WebODM.Password,
		httpClient, cfg.HTTP.HealthCheckTimeout); o.Configured() {
		m.Register("webodm", o.Health)
		names = append(names, "webodm")
	}
	if cfg.Compute.BaseURL != "" {
		cc, err := compute.NewHTTPClient(cfg.Compute.BaseURL, httpClient, cfg.HTTP.HealthCheckTimeout)
		if err != nil {
			return nil, nil, err
		}
		m.Register("compute", cc.Health)
		names = append(names, "compute")
	}
	return m, names, nil
}
