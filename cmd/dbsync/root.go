package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dbsync "github.com/Trendyol/go-db-sync"
	"github.com/Trendyol/go-db-sync/config"
)

var (
	version = "dev"
	commit  = "none"
)

// exitError carries a non-zero exit code that is not a failure of the command itself.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type configFlags struct {
	path    string
	fromEnv bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "Path to a YAML or JSON configuration file")
	cmd.Flags().BoolVar(&f.fromEnv, "env", false, "Read the configuration from SOURCE_DB_*, TARGET_DB_* and sync variables")
}

func (f *configFlags) syncer(ctx context.Context) (dbsync.Syncer, error) {
	switch {
	case f.fromEnv && f.path != "":
		return nil, errors.New("--config and --env are mutually exclusive")
	case f.fromEnv:
		cfg, err := config.ReadConfigEnv()
		if err != nil {
			return nil, err
		}
		return dbsync.NewSyncer(ctx, cfg)
	case f.path != "":
		return dbsync.NewSyncerWithConfigFile(ctx, f.path)
	}
	return nil, errors.New("either --config or --env is required")
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dbsync",
		Short:         "Incremental database to database sync",
		Long:          "Copies new rows from a source table to a target table on another engine, batch by batch, resuming from the last committed watermark.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(stdout),
		newStartCmd(),
		newResetCmd(),
		newVersionCmd(stdout),
	)
	return rootCmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(stdout, "dbsync version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
