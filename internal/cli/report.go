package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

func newReportCmd() *cobra.Command {
	var output string
	var summaryOnly bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "report <test_results.json>",
		Short: "Render an HTML report from a saved results file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := fireglobe.LoadTestResults(args[0])
			if err != nil {
				return err
			}
			n := newNarrator(cmd.OutOrStdout(), false)
			if summaryOnly {
				n.Summary(results)
				return nil
			}
			if output == "" {
				output = defaultReportPath(args[0])
			}
			f, err := os.Create(output) //nolint:gosec // caller-provided path
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			if err := fireglobe.RenderHTMLReport(f, results); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			n.ok.Fprintf(n.w, "Report written to %s\n", output)
			return nil
		},
	})
	cmd.Flags().StringVarP(&output, "output", "o", "", "HTML output path (default: next to the results file)")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print the summary instead of writing HTML")
	return cmd
}

// defaultReportPath maps test_results_<ts>.json to test_report_<ts>.html in
// the same directory.
func defaultReportPath(resultsPath string) string {
	dir, base := filepath.Split(resultsPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if rest, ok := strings.CutPrefix(base, "test_results_"); ok {
		base = "test_report_" + rest
	}
	return filepath.Join(dir, base+".html")
}
