package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(s *session) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's indexing state and recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			status, err := b.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			u := status.User
			last := "never"
			if u.LastIndexTime != nil {
				last = u.LastIndexTime.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "user:       %s (@%s)\n", u.ID, u.ScreenName)
			fmt.Fprintf(out, "indexed:    %d\n", u.IndexedEntries)
			fmt.Fprintf(out, "last index: %s\n", last)
			fmt.Fprintf(out, "indexing:   %t\n", status.Indexing)
			for _, run := range status.RecentRuns {
				fmt.Fprintf(out, "  %s  %-9s new=%d indexed=%d %s\n",
					run.StartedAt.UTC().Format(time.RFC3339), run.State, run.New, run.Indexed, run.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newEnqueueCmd(s *session) *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "enqueue <user-id>",
		Short: "Queue an indexing job for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			queued, err := b.RequestIndex(cmd.Context(), args[0], rounds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s for %d rounds\n", args[0], queued)
			return nil
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 0, "Pages to fetch (0 uses the reindex default)")
	return cmd
}

func newRunCmd(s *session) *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "run <user-id>",
		Short: "Run one indexing pass inline, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rounds < 1 {
				return fmt.Errorf("--rounds must be at least 1")
			}
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := b.Run(cmd.Context(), args[0], rounds)
			if outcome != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: fetched=%d new=%d indexed=%d malformed=%d watermark=%d in %s\n",
					outcome.State, outcome.Fetched, outcome.New, outcome.Indexed, outcome.Malformed,
					outcome.WatermarkSize, outcome.Duration().Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 2, "Pages to fetch")
	return cmd
}

func newExportIDsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "export-ids <user-id>",
		Short: "Print every document id in a user's index, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := b.ExportIDs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newUnlockCmd(s *session) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "unlock [user-id]",
		Short: "Clear a stuck indexing lock",
		Long: `Clear the indexing lock of one user, or of every user with --all.
Only use this when no worker is running a pass for the user.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no user id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("expected a user id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			if all {
				n, err := b.UnlockAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d locks\n", n)
				return nil
			}
			if err := b.Unlock(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released lock for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Release every held lock")
	return cmd
}

func newDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user's index, watermark and record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
