package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjennings/zeroshot-sub001/internal/ledger"
	"github.com/sjennings/zeroshot-sub001/internal/orchestrator"
)

var (
	startTopic       string
	startText        string
	startForceWork   bool
	startForceIso    bool
	startWatch       bool
	startNoWorktree  bool
	startNoIsolated  bool
)

var startCmd = &cobra.Command{
	Use:   "start <config.toml>",
	Short: "Start a new cluster from a config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVar(&startTopic, "topic", "ISSUE_OPENED", "topic of the initial message published on start")
	startCmd.Flags().StringVar(&startText, "text", "", "text content of the initial message")
	startCmd.Flags().BoolVar(&startForceWork, "worktree", false, "force worktree isolation regardless of config")
	startCmd.Flags().BoolVar(&startNoWorktree, "no-worktree", false, "force host mode, overriding config's worktree setting")
	startCmd.Flags().BoolVar(&startForceIso, "isolated", false, "force container isolation regardless of config")
	startCmd.Flags().BoolVar(&startNoIsolated, "no-isolated", false, "force non-container mode, overriding config's isolation setting")
	startCmd.Flags().BoolVar(&startWatch, "watch", false, "attach a live TUI after starting and block until the cluster terminates")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, shutdown, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	opts := orchestrator.StartOptions{}
	if startForceWork {
		t := true
		opts.ForceWorktree = &t
	} else if startNoWorktree {
		f := false
		opts.ForceWorktree = &f
	}
	if startForceIso {
		t := true
		opts.ForceIsolated = &t
	} else if startNoIsolated {
		f := false
		opts.ForceIsolated = &f
	}

	initial := ledger.Message{
		Topic:  startTopic,
		Sender: "system",
		Content: ledger.Content{
			Text: startText,
		},
	}

	id, err := o.Start(ctx, args[0], initial, opts)
	if err != nil {
		return fmt.Errorf("starting cluster: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s started\n", id)

	if startWatch {
		return runWatchTUI(ctx, o, id)
	}

	rec, err := o.Wait(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s finished: %s\n", id, rec.State)
	return nil
}
