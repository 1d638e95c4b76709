package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mmstatus/internal/ics"
)

var calendarsCmd = &cobra.Command{
	Use:   "calendars",
	Short: "List configured calendars",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if len(cfg.Calendars) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No calendars configured in %s\n", configPath)
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tID\tNAME\tURL")
		for _, c := range cfg.Calendars {
			mark := ""
			if c.ID == cfg.Calendar {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, c.ID, c.Name, ics.RedactURL(c.URL))
		}
		return tw.Flush()
	},
}
