package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	dbsync "github.com/Trendyol/go-db-sync"
)

func newRunCmd(stdout io.Writer) *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync pass and print the report",
		Long:  "Runs every configured table pair once. Exits 0 when all tables succeeded, 2 on partial success and 1 when every table failed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.syncer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := s.Run(cmd.Context())
			if err != nil && !errors.Is(err, dbsync.ErrRunFailed) {
				return err
			}
			if err = printJSON(stdout, rep); err != nil {
				return err
			}

			if code := rep.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newStartCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run on the configured schedule and serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.syncer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			s.Start(cmd.Context())
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var (
		flags configFlags
		table string
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the offset of a table so the next run syncs it from the start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.syncer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.ResetOffset(cmd.Context(), table); err != nil {
				return err
			}
			cmd.Printf("offset of %s reset\n", table)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&table, "table", "", "Table pair id (source__target) or source table name")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}
