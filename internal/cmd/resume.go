package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeText string
var resumeWatch bool

var resumeCmd = &cobra.Command{
	Use:   "resume <cluster-id>",
	Short: "Resume a previously stopped or crashed cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeText, "text", "", "resume context text handed to the last executing agent")
	resumeCmd.Flags().BoolVar(&resumeWatch, "watch", false, "attach a live TUI and block until the cluster terminates")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, shutdown, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	if err := o.Resume(ctx, args[0], resumeText); err != nil {
		return fmt.Errorf("resuming cluster %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s resumed\n", args[0])

	if resumeWatch {
		return runWatchTUI(ctx, o, args[0])
	}

	rec, err := o.Wait(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s finished: %s\n", args[0], rec.State)
	return nil
}
