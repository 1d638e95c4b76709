package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mmstatus/internal/config"
	"mmstatus/internal/ics"
	appLog "mmstatus/internal/log"
	"mmstatus/internal/model"
)

const version = "0.1.0"

var (
	// configPath is the YAML config file.
	configPath string

	// logLevel overrides the configured log level when set.
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mmstatus",
	Short: "Mirror calendar meetings as Mattermost presence",
	Long: `mmstatus watches one calendar and sets your Mattermost status to
"do not disturb" while a meeting is running and back to "online" when it
is over.

Run "mmstatus login" once to store a session token, then "mmstatus run".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", defaultConfigPath(),
		"Path to config file",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)",
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(calendarsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("mmstatus failed", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mmstatus", "config.yaml")
	}
	return "mmstatus.yaml"
}

// loadConfig loads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return cfg, nil
}

// resolveLocation loads the configured timezone, falling back to local
// time for "Local", empty or unknown names.
func resolveLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

// newProbe builds the ICS probe over every configured calendar.
func newProbe(cfg *config.Config) *ics.Probe {
	sources := make([]ics.Source, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL})
	}
	fetcher := ics.NewFetcher(cfg.CacheDir, 15*time.Second)
	return ics.NewProbe(fetcher, sources, resolveLocation(cfg.Timezone))
}

// selectCalendar resolves the calendar to watch: override if set, the
// configured default otherwise. It must name a configured calendar.
func selectCalendar(cfg *config.Config, override string) (string, error) {
	id := cfg.Calendar
	if override != "" {
		id = override
	}
	if id == "" {
		return "", &model.ConfigError{Field: "calendar", Reason: "no calendar configured"}
	}
	cal, ok := cfg.FindCalendar(id)
	switch {
	case !ok:
		return "", &model.ConfigError{Field: "calendar", Reason: fmt.Sprintf("unknown calendar %q", id)}
	case cal.URL == "":
		return "", &model.ConfigError{Field: "calendar", Reason: fmt.Sprintf("calendar %q has no url", id)}
	}
	return id, nil
}

func requestTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
}
