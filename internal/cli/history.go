package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Marshal-AM/fireglobe/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "history",
		Short: "List test runs recorded on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			n := newNarrator(cmd.OutOrStdout(), false)
			if len(entries) == 0 {
				_, err := fmt.Fprintln(n.w, "No runs recorded yet.")
				return err
			}
			for _, e := range entries {
				n.HistoryEntry(e)
			}
			return nil
		},
	})
	cmd.PersistentFlags().StringVar(&dbPath, "db", history.DefaultPath(), "local run history database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "most recent N runs (0 for all)")

	cmd.AddCommand(silenceUsageAndErrors(&cobra.Command{
		Use:   "show <test-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			e, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no recorded run with test id %s", args[0])
			}
			if err != nil {
				return err
			}
			n := newNarrator(cmd.OutOrStdout(), false)
			n.title.Fprintf(n.w, "Test %s\n", e.TestID)
			fmt.Fprintf(n.w, "  Agent:         %s\n", e.AgentName)
			fmt.Fprintf(n.w, "  Description:   %s\n", e.AgentDescription)
			n.scoreColor(float64(e.OverallScore)).Fprintf(n.w, "  Overall score: %d/100\n", e.OverallScore)
			fmt.Fprintf(n.w, "  Conversations: %d total, %d successful, %d failed\n", e.Conversations, e.Successful, e.Failed)
			fmt.Fprintf(n.w, "  Warnings:      %d\n", e.Warnings)
			fmt.Fprintf(n.w, "  Started:       %s (%s)\n", e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Duration())
			if e.ResultsPath != "" {
				fmt.Fprintf(n.w, "  Results:       %s\n", e.ResultsPath)
			}
			if e.RunID != "" {
				fmt.Fprintf(n.w, "  Relay run:     %s\n", e.RunID)
			}
			return nil
		},
	}))

	cmd.AddCommand(silenceUsageAndErrors(&cobra.Command{
		Use:   "rm <test-id>",
		Short: "Forget a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no recorded run with test id %s", args[0])
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return err
		},
	}))
	return cmd
}
