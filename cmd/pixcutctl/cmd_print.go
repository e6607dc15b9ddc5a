package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/internal/agent"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/job"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/link"
)

func init() {
	for _, cmd := range []*cobra.Command{cmdPrint, cmdCombo} {
		cmd.Flags().Bool("wait", true, "wait until the job finished")
		cmd.Flags().Uint8("copies", 0, "number of copies (default from config)")
		cmd.Flags().String("canvas", "", "media canvas name (default from config)")
		rootCmd.AddCommand(cmd)
	}
}

var (
	cmdPrint = &cobra.Command{
		Use:     "print <photo.jpg>",
		Example: "pixcutctl print holiday.jpg --copies 2",
		Short:   "Print a JPEG photo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			photo, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runJob(cmd, photo, nil)
		},
	}

	cmdCombo = &cobra.Command{
		Use:     "combo <photo.jpg> <cut.plt>",
		Example: "pixcutctl combo sticker.jpg sticker.plt",
		Short:   "Print a JPEG photo and cut it along a PLT path",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			photo, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			plot, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return runJob(cmd, photo, plot)
		},
	}
)

func runJob(cmd *cobra.Command, photo, plot []byte) error {
	wait, err := cmd.Flags().GetBool("wait")
	if err != nil {
		return err
	}
	copies, err := cmd.Flags().GetUint8("copies")
	if err != nil {
		return err
	}
	canvas, err := cmd.Flags().GetString("canvas")
	if err != nil {
		return err
	}

	return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
		req := a.PrintRequest(photo, plot)
		if copies != 0 {
			req.Copies = copies
		}
		if canvas != "" {
			req.Canvas = canvas
		}

		var progress link.Progress = func(sent, total int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\ruploading packet %d/%d", sent, total)
			if sent == total {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
		}

		var j *job.Job
		if plot != nil {
			j, err = a.Jobs().Combo(ctx, req, progress)
		} else {
			j, err = a.Jobs().Print(ctx, req, progress)
		}
		if err != nil {
			return err
		}
		defer j.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s job %d accepted\n", j.Kind, j.JobID)
		if !wait {
			return nil
		}

		info, err := j.Wait(ctx)
		if err != nil {
			return err
		}
		printJobStatus(cmd, info)
		return nil
	})
}
