package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Marshal-AM/fireglobe/internal/history"
	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe/agents/geminiagent"
	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe/agents/openaiagent"
)

// agentFactory builds the agent under test. Tests replace it.
var agentFactory = newAgent

func newTestCmd() *cobra.Command {
	var historyPath string
	var noUpload, noHistory, verbose bool

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "test <test-file.yaml>",
		Short: "Run a personality test against an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tf, err := LoadTestFile(args[0])
			if err != nil {
				return err
			}
			if noUpload {
				tf.Test.DBServerURL = ""
			}
			cfg, err := tf.SDKConfig(os.Getenv(envAccessToken))
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), verbose)
			agent, err := agentFactory(ctx, tf)
			if err != nil {
				return err
			}
			defer func() {
				if err := agent.Cleanup(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("agent cleanup failed", "error", err)
				}
			}()

			tester, err := fireglobe.NewTester(cfg, fireglobe.WithLogger(logger))
			if err != nil {
				return err
			}
			n := newNarrator(cmd.OutOrStdout(), verbose || cfg.RealTimeLogging)
			unsubscribe := tester.Subscribe(n.Handle)
			defer unsubscribe()

			results, runErr := tester.Run(ctx, agent)
			if results != nil && !noHistory {
				if err := recordHistory(ctx, historyPath, results); err != nil {
					logger.Warn("record run history failed", "error", err)
				}
			}
			return runErr
		},
	})
	cmd.Flags().StringVar(&historyPath, "history-db", history.DefaultPath(), "local run history database")
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "skip the relay upload even if db-server-url is set")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in local history")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every message and debug logs")
	return cmd
}

// newAgent builds the agent named by the test file's provider.
func newAgent(ctx context.Context, tf *TestFile) (fireglobe.Agent, error) {
	meta := tf.Metadata()
	switch tf.Agent.Provider {
	case ProviderGemini:
		key := os.Getenv(envGeminiKey)
		if key == "" {
			return nil, fmt.Errorf("%s is required for the gemini provider", envGeminiKey)
		}
		return geminiagent.New(ctx, geminiagent.Config{
			APIKey:       key,
			Model:        tf.Agent.Model,
			SystemPrompt: tf.Agent.SystemPrompt,
			Metadata:     meta,
		})
	case ProviderOpenAI:
		key := os.Getenv(envOpenAIKey)
		if key == "" {
			return nil, fmt.Errorf("%s is required for the openai provider", envOpenAIKey)
		}
		return openaiagent.New(openaiagent.Config{
			APIKey:       key,
			BaseURL:      tf.Agent.BaseURL,
			Model:        tf.Agent.Model,
			SystemPrompt: tf.Agent.SystemPrompt,
			Metadata:     meta,
		})
	default:
		return nil, fmt.Errorf("unknown agent provider %q", tf.Agent.Provider)
	}
}

// recordHistory stores results in the local history database, linking the
// saved results file when there is one.
func recordHistory(ctx context.Context, path string, results *fireglobe.TestResults) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	var resultsPath string
	if o, ok := results.Outcome(fireglobe.TaskSaveResults); ok && o.Status == fireglobe.OutcomeOK {
		resultsPath = o.Detail
	}
	err = store.Record(ctx, results, resultsPath)
	return errors.Join(err, store.Close())
}
