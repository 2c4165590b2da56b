package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexAllCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex-all",
		Short: "Queue a reindex job for every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			n, err := b.ReindexAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d jobs\n", n)
			return err
		},
	}
}

func newPurgeCmd(s *session) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every user, index and watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return fmt.Errorf("refusing to purge without --yes")
			}
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			n, err := b.PurgeAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d users\n", n)
			return err
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm deleting all data")
	return cmd
}
