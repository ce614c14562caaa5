// Package cli implements the fireglobe command-line tool: run a test against
// an OpenAI or Gemini agent, list uploaded runs, re-render reports and browse
// local run history.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version can be overridden at build time via:
// go build -ldflags "-X github.com/Marshal-AM/fireglobe/internal/cli.Version=1.2.3"
var Version = "dev"

const (
	envAccessToken = "FIREGLOBE_ACCESS_TOKEN"
	envRelayURL    = "FIREGLOBE_DB_URL"
	envOpenAIKey   = "OPENAI_API_KEY"
	envGeminiKey   = "GEMINI_API_KEY"

	defaultRelayURL = "http://localhost:3001"
)

const logo = "\n" +
	"  ___ _          ___ _     _         \n" +
	" | __(_)_ _ ___ / __| |___| |__  ___ \n" +
	" | _|| | '_/ -_) (_ | / _ \\ '_ \\/ -_)\n" +
	" |_| |_|_| \\___|\\___|_\\___/_.__/\\___|\n"

// Execute runs the CLI with args, writing human output to stdout and
// diagnostics to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	// Load .env file if present so API keys can live next to test files.
	_ = godotenv.Load()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	executed, err := root.ExecuteContextC(ctx)
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "fireglobe",
		Short: "Test DeFi agents with AI-generated user personalities.",
		Long:  color.CyanString(logo) + "\nTest DeFi agents with AI-generated user personalities.",
	})
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newTestCmd())
	root.AddCommand(newRunsCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "version",
		Short: "Print the fireglobe version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fireglobe %s\n", Version)
			return err
		},
	})
}

// newLogger writes structured diagnostics to w. Only warnings and errors
// are shown unless verbose is set, so the narration stays readable.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// envOr returns the value of key, or def when it is unset or blank.
func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	target := cmd
	if target == nil {
		target = root
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(msg, "unknown command"),
		strings.HasPrefix(msg, "unknown flag"),
		strings.HasPrefix(msg, "unknown shorthand flag"),
		strings.HasPrefix(msg, "invalid argument"),
		strings.Contains(msg, "flag needs an argument"),
		strings.Contains(msg, "required flag"):
		return true
	case strings.Contains(msg, "arg") &&
		(strings.Contains(msg, "accepts") || strings.Contains(msg, "requires at least") || strings.Contains(msg, "requires at most")):
		return true
	}
	return false
}
