package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/internal/journal"
	"github.com/uptime-industries/pixcut-link/pkg/transport"
)

func init() {
	rootCmd.AddCommand(cmdJobs)
	rootCmd.AddCommand(cmdPorts)
}

var (
	cmdJobs = &cobra.Command{
		Use:   "jobs",
		Short: "List jobs recorded in the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFromContext(cmd.Context())
			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tKIND\tSTATE\tCREATED\tUPDATED")
			for _, e := range entries {
				state := "unknown"
				if e.Status != nil {
					state = e.Status.JobState.String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.JobID, e.Kind, state,
					e.CreatedAt.Format(time.DateTime), e.UpdatedAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmdPorts = &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a printer may be bound to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
)
