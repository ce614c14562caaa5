package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

func newRunsCmd() *cobra.Command {
	var relayURL, token string
	var asJSON bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "runs",
		Short: "List test runs uploaded to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("an access token is required (--token or %s)", envAccessToken)
			}
			rc, err := fireglobe.NewRelayClient(fireglobe.RelayConfig{BaseURL: relayURL})
			if err != nil {
				return err
			}
			runs, err := rc.ListTestRuns(cmd.Context(), token)
			if err != nil {
				if fireglobe.IsUnauthorized(err) {
					return errors.New("the relay rejected the access token")
				}
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				_, err := fmt.Fprintln(out, "No test runs uploaded yet.")
				return err
			}
			sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tRUN ID\tKG\tMETRICS\tREWARD")
			for _, r := range runs {
				reward := "-"
				if r.FGCRewardTx != nil {
					reward = *r.FGCRewardTx
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), r.RunID, r.KGURL, r.MetricsURL, reward)
			}
			return tw.Flush()
		},
	})
	cmd.Flags().StringVar(&relayURL, "relay-url", envOr(envRelayURL, defaultRelayURL), "relay base URL")
	cmd.Flags().StringVar(&token, "token", envOr(envAccessToken, ""), "dashboard access token")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var relayURL string

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "health",
		Short: "Check the relay and the services it depends on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := fireglobe.NewRelayClient(fireglobe.RelayConfig{BaseURL: relayURL})
			if err != nil {
				return err
			}
			h, err := rc.Health(cmd.Context())
			if err != nil {
				return err
			}
			n := newNarrator(cmd.OutOrStdout(), false)
			status := n.ok
			if h.Status != "OK" {
				status = n.fail
			}
			status.Fprintf(n.w, "relay %s", h.Status)
			if h.Version != "" {
				fmt.Fprintf(n.w, " (version %s)", h.Version)
			}
			fmt.Fprintln(n.w)

			names := make([]string, 0, len(h.Services))
			for name := range h.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(n.w, "  %-12s %s\n", name, h.Services[name])
			}
			return nil
		},
	})
	cmd.Flags().StringVar(&relayURL, "relay-url", envOr(envRelayURL, defaultRelayURL), "relay base URL")
	return cmd
}
