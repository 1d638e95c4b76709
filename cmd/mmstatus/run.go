package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mmstatus/internal/engine"
	appLog "mmstatus/internal/log"
	"mmstatus/internal/presence"
	"mmstatus/internal/web"
)

var (
	runCalendar string
	runInterval int
	runNoAPI    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep Mattermost presence in sync with the calendar",
	Long: `Poll the selected calendar and update Mattermost presence until
interrupted. On exit a "do not disturb" status set by mmstatus is reverted
to "online".

Unless --no-api is given, a status API is served on the configured listen
address (GET /api/status, POST /api/start, POST /api/stop).`,
	RunE: runSync,
}

func init() {
	runCmd.Flags().StringVar(&runCalendar, "calendar", "",
		"Calendar ID to watch (overrides config)")
	runCmd.Flags().IntVar(&runInterval, "interval", 0,
		"Poll interval in seconds, 10-3600 (overrides config)")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false,
		"Do not serve the status API")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	calendarID, err := selectCalendar(cfg, runCalendar)
	if err != nil {
		return err
	}

	syncCfg := engine.SyncConfig{
		IntervalSeconds: cfg.IntervalSeconds,
		CalendarID:      calendarID,
	}
	if runInterval != 0 {
		syncCfg.IntervalSeconds = runInterval
	}

	// Fail fast on an unusable server address instead of on every tick.
	if _, err := presence.StatusURL(cfg.Mattermost.Server); err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Probe:          newProbe(cfg),
		Client:         presence.NewClient(requestTimeout(cfg)),
		Credentials:    cfg.Credentials,
		RequestTimeout: requestTimeout(cfg),
	})
	if err := eng.Configure(syncCfg); err != nil {
		return err
	}

	appLog.Info("effective config",
		"config_path", configPath,
		"calendar", syncCfg.CalendarID,
		"interval_seconds", syncCfg.IntervalSeconds,
		"server", cfg.Mattermost.Server,
		"listen", cfg.Listen,
		"api", !runNoAPI && cfg.Listen != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Ticks must not be aborted by the shutdown signal itself; Stop
	// decides what happens to them.
	runCtx := context.WithoutCancel(ctx)
	if err := eng.Start(runCtx); err != nil {
		return err
	}

	apiErr := make(chan error, 1)
	if !runNoAPI && cfg.Listen != "" {
		srv := web.NewServer(runCtx, cfg, eng)
		go func() {
			apiErr <- srv.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			appLog.Error("status API failed", err)
		}
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		appLog.Error("could not revert presence to online", err)
	}

	appLog.Info("mmstatus exiting")
	return nil
}
