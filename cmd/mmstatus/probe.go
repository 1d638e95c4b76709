package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mmstatus/internal/model"
)

var (
	probeCalendar string
	probeAt       string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the meeting active in the calendar right now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		calendarID, err := selectCalendar(cfg, probeCalendar)
		if err != nil {
			return err
		}

		at := time.Now()
		if probeAt != "" {
			if at, err = time.Parse(time.RFC3339, probeAt); err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
		}

		active, err := newProbe(cfg).ActiveEventAt(cmd.Context(), calendarID, at)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		active.WhenSome(func(ev model.ActiveEvent) {
			fmt.Fprintf(out, "busy: %s (%s - %s)\n", ev.Title,
				ev.Start.Format(time.Kitchen), ev.End.Format(time.Kitchen))
		})
		if active.IsNone() {
			fmt.Fprintln(out, "free")
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeCalendar, "calendar", "",
		"Calendar ID to probe (overrides config)")
	probeCmd.Flags().StringVar(&probeAt, "at", "",
		"Probe at this RFC3339 time instead of now")
}
