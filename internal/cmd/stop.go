package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <cluster-id>",
	Short: "Stop a cluster, preserving its workspace for resume",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, shutdown, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	if err := o.Stop(ctx, args[0]); err != nil {
		return fmt.Errorf("stopping cluster %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s stopped\n", args[0])
	return nil
}
