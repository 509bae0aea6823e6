package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var killAllFlag bool

var killCmd = &cobra.Command{
	Use:   "kill <cluster-id>",
	Short: "Force-stop a cluster and fully tear down its workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runKill,
}

func init() {
	killCmd.Flags().BoolVar(&killAllFlag, "all", false, "kill every cluster this process currently tracks in memory")
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, shutdown, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	if killAllFlag {
		if err := o.KillAll(ctx); err != nil {
			return fmt.Errorf("killing all clusters: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all tracked clusters killed")
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("kill requires a cluster id, or --all")
	}
	if err := o.Kill(ctx, args[0]); err != nil {
		return fmt.Errorf("killing cluster %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cluster %s killed\n", args[0])
	return nil
}
