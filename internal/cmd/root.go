// Package cmd wires cobra subcommands to the orchestrator core. It is
// intentionally thin: every subcommand loads a config, calls one
// orchestrator method, and prints the result. No engine logic lives here.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sjennings/zeroshot-sub001/internal/mirror"
	"github.com/sjennings/zeroshot-sub001/internal/orchestrator"
	"github.com/sjennings/zeroshot-sub001/internal/store"
	"github.com/sjennings/zeroshot-sub001/internal/telemetry"
)

var (
	storageDir   string
	repoDir      string
	otlpEndpoint string
	otlpEnabled  bool

	mirrorRelays     []string
	mirrorSignerKey  string
	mirrorBunkerURI  string
)

var rootCmd = &cobra.Command{
	Use:   "zeroshot",
	Short: "Coordinate clusters of cooperating autonomous agents",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", defaultStorageDir(), "directory holding cluster/task records")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo-dir", ".", "repository root worktree isolation is created off of")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP endpoint for telemetry export (empty disables export)")
	rootCmd.PersistentFlags().BoolVar(&otlpEnabled, "otlp", false, "enable OTLP log/metric export")
	rootCmd.PersistentFlags().StringArrayVar(&mirrorRelays, "mirror-relay", nil, "Nostr relay URL to mirror cluster/message activity to (repeatable; empty disables mirroring)")
	rootCmd.PersistentFlags().StringVar(&mirrorSignerKey, "mirror-signer-key", "", "hex private key for local mirror signing (development only)")
	rootCmd.PersistentFlags().StringVar(&mirrorBunkerURI, "mirror-bunker", "", "bunker:// URI for NIP-46 mirror signing (production)")
}

// Execute runs the root command. main.go's sole job is to call this.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zeroshot"
	}
	return filepath.Join(home, ".zeroshot")
}

// newOrchestrator builds the orchestrator + its store and telemetry
// backends from the persistent flags shared by every subcommand.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(context.Context) error, error) {
	st, err := store.NewFileStore(storageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store at %s: %w", storageDir, err)
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:  otlpEnabled,
		Endpoint: otlpEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	abs, err := filepath.Abs(repoDir)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, fmt.Errorf("resolving repo dir %s: %w", repoDir, err)
	}

	o := orchestrator.New(abs, st, tel)

	if mir, err := buildMirror(ctx); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, fmt.Errorf("setting up mirror: %w", err)
	} else if mir != nil {
		o = o.WithMirror(mir)
	}

	return o, tel.Shutdown, nil
}

// buildMirror wires an optional Nostr mirror publisher from the
// --mirror-relay/--mirror-signer-key/--mirror-bunker flags. It returns a
// nil publisher (not an error) when no relay is configured, since
// mirroring is opt-in.
func buildMirror(ctx context.Context) (*mirror.Publisher, error) {
	if len(mirrorRelays) == 0 {
		return nil, nil
	}

	var signer mirror.Signer
	var err error
	switch {
	case mirrorBunkerURI != "":
		signer, err = mirror.NewNIP46Signer(ctx, mirrorBunkerURI)
	case mirrorSignerKey != "":
		signer, err = mirror.NewLocalSigner(mirrorSignerKey)
	default:
		return nil, fmt.Errorf("--mirror-relay given without --mirror-signer-key or --mirror-bunker")
	}
	if err != nil {
		return nil, err
	}

	cfg := mirror.Config{ReadRelays: mirrorRelays, WriteRelays: mirrorRelays}
	return mirror.NewPublisher(ctx, cfg, signer, storageDir)
}
