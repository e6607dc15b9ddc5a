package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/internal/agent"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
)

func init() {
	rootCmd.AddCommand(cmdProps)
	rootCmd.AddCommand(cmdStatus)
	rootCmd.AddCommand(cmdJobInfo)
	rootCmd.AddCommand(cmdResume)
}

var (
	cmdProps = &cobra.Command{
		Use:     "props [name...]",
		Example: "pixcutctl props printer-state auto-off-interval",
		Short:   "Read device properties, all known ones by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = device.AllProperties
			}

			return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
				callCtx, cancel := a.CallContext(ctx)
				defer cancel()

				values, err := a.Session().GetProp(callCtx, names...)
				if err != nil {
					return err
				}
				props, err := device.Properties(names, values)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, props[name])
				}
				return nil
			})
		},
	}

	cmdStatus = &cobra.Command{
		Use:   "status",
		Short: "Show the printer state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
				callCtx, cancel := a.CallContext(ctx)
				defer cancel()

				status, err := a.Session().GetDeviceStatus(callCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "state: %s\nsub-state: %s\nalerts: %s\n",
					status.State, status.SubState, status.Alerts)
				return nil
			})
		},
	}

	cmdJobInfo = &cobra.Command{
		Use:     "job-info <job-id>",
		Example: "pixcutctl job-info 42",
		Short:   "Query the state of a job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
				callCtx, cancel := a.CallContext(ctx)
				defer cancel()

				info, err := a.Session().GetJobInfo(callCtx, uint32(jobID))
				if err != nil {
					return err
				}
				printJobStatus(cmd, info)
				return nil
			})
		},
	}

	cmdResume = &cobra.Command{
		Use:   "resume",
		Short: "Resume the printer after a recoverable stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
				callCtx, cancel := a.CallContext(ctx)
				defer cancel()
				return a.Session().ResumePrinter(callCtx)
			})
		},
	}
)

func printJobStatus(cmd *cobra.Command, info *device.JobStatusInfo) {
	fmt.Fprintf(cmd.OutOrStdout(), "job %d: %s (%s), transferred %d of %d bytes\n",
		info.JobID, info.JobState, info.JobSubState, info.TransferSize, info.FileSize)
}
