// Command shakesync runs the headless job synchronization daemon: it keeps
// a live view of enrichment jobs, AI usage and playlist state for local
// consumers of the engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/songshake/shakesync/api"
	"github.com/songshake/shakesync/config"
	"github.com/songshake/shakesync/dashboard"
	"github.com/songshake/shakesync/engine"
	"github.com/songshake/shakesync/logger"
	"github.com/songshake/shakesync/usage"
	"github.com/songshake/shakesync/version"
)

var (
	configPath string
	jsonLogs   bool
)

func main() {
	root := &cobra.Command{
		Use:   "shakesync",
		Short: "Song Shake job synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "shakesync.toml", "path to TOML config file")
	root.Flags().BoolVar(&jsonLogs, "json", false, "emit JSON logs")
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show shakesync version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s, %s\n", info, info.Platform, info.GoVersion)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}

func run() error {
	// .env is optional; environment wins over the config file either way.
	godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Initialize(jsonLogs); err != nil {
		return err
	}
	defer logger.Cleanup()
	log := logger.Logger

	client := api.NewClient(cfg.BaseURL, cfg.Token, cfg.HTTPTimeout.Duration, log)
	backend := engine.NewBackend(client)

	usagePoller := usage.NewPoller(client.FetchUsage, cfg.UsageInterval.Duration, cfg.GlowWindow.Duration, log)

	eng := engine.New(backend, usagePoller, engine.Config{
		PollInterval:       cfg.PollInterval.Duration,
		ReconcileDelay:     cfg.ReconcileDelay.Duration,
		CancelConfirmDelay: cfg.ReconcileDelay.Duration,
	}, log)

	boards := dashboard.NewPoller(client.ListPlaylists, cfg.DashboardFast.Duration, cfg.DashboardSlow.Duration, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	boards.Start()

	log.Infow("shakesync running",
		"backend", cfg.BaseURL,
		"poll_interval", cfg.PollInterval.Duration)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Infow("Shutting down")
	boards.Stop()
	eng.Stop()
	return nil
}
