package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsdesk/internal/api"
	"newsdesk/internal/config"
	"newsdesk/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, scheduler and cache janitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		gin.SetMode(gin.ReleaseMode)
		srvCfg := api.Config{
			Newsletters:     a.pipeline,
			Podcasts:        a.podcasts,
			Cooldown:        a.cooldown,
			AdminSecret:     cfg.Server.AdminSecret,
			RefreshCooldown: config.Duration(cfg.Server.RefreshCooldown, 5*time.Minute),
			Defaults:        cfg.DefaultCategories,
			Title:           cfg.Newsletter.Title,
			Preface:         cfg.Newsletter.Preface,
			Postscript:      cfg.Newsletter.Postscript,
		}
		if a.store != nil {
			srvCfg.Analytics = a.store
		}
		if cfg.Server.AdminSecret == "" {
			slog.Warn("server.admin_secret not set: admin refresh is disabled")
		}

		cleaners := map[string]worker.Cleaner{"newsletter": a.newsletters, "audio": a.audio}
		if a.podcasts != nil {
			cleaners["podcast-jobs"] = a.podcasts
		}
		ws := []worker.Worker{
			&worker.HTTPServer{Addr: cfg.Server.Addr, Handler: api.NewServer(srvCfg).Handler()},
			&worker.CacheJanitor{
				Cleaners: cleaners,
				Interval: config.Duration(cfg.Cache.CleanupInterval, 30*time.Minute),
			},
		}
		if cfg.SchedulerEnabled() {
			slog.Info("starting scheduler", "hours", cfg.Scheduler.Hours, "tz", cfg.App.Timezone)
			ws = append(ws, &worker.Scheduler{Refresher: a.pipeline, Hours: cfg.Scheduler.Hours, Location: a.Location()})
		}
		mgr := worker.NewManager(ws...)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Signal handling for systemd
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			s := <-sigc
			slog.Info("received signal, shutting down", "signal", s.String())
			cancel()
		}()

		return mgr.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
