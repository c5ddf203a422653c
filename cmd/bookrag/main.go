// Command bookrag runs the book question-answering service and its
// maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/hsn0918/bookrag/internal/config"
	"github.com/hsn0918/bookrag/internal/evaluation"
	"github.com/hsn0918/bookrag/internal/server"
	"github.com/hsn0918/bookrag/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "bookrag",
		Short:         "Question answering over a single technical book",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), ingestCmd(), testsetCmd(), evaluateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Ingest the configured book and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(server.Module).Run()
			return nil
		},
	}
}

// loadComponents builds the pipeline for a one-shot command.
func loadComponents(ctx context.Context) (*server.Components, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, err
	}
	if err := logger.InitWithLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return server.Build(ctx, &cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the index from the configured book and write the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			c, err := loadComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if force {
				err = c.Ingester.Reingest(ctx)
			} else {
				err = c.Ingester.EnsureReady(ctx)
			}
			if err != nil {
				return err
			}
			doc := c.Store.Document()
			fmt.Printf("ingested %s: %d parents, %d children\n", doc.Name, doc.Parents, doc.Children)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reingest even when a valid snapshot exists")
	return cmd
}

func testsetCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "testset",
		Short: "Generate an evaluation test set from the indexed book",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			c, err := loadComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ingester.EnsureReady(ctx); err != nil {
				return err
			}
			questions, err := c.Evaluator.GenerateTestSet(ctx, n)
			if err != nil {
				return err
			}
			path, err := evaluation.SaveTestSet(c.Evaluator.Dir(), questions)
			if err != nil {
				return err
			}
			fmt.Printf("generated %d questions: %s\n", len(questions), path)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num-questions", "n", 10, "number of questions to generate")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var n int
	var batch bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the evaluation harness and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			c, err := loadComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ingester.EnsureReady(ctx); err != nil {
				return err
			}

			if batch {
				questions, err := evaluation.LoadTestSet(c.Evaluator.Dir())
				if err != nil {
					return fmt.Errorf("no test set found, generate one first: %w", err)
				}
				report, err := c.Evaluator.RunBatch(ctx, questions)
				if err != nil {
					return err
				}
				fmt.Printf("evaluated %d questions, overall %.3f\n", report.NumQuestions, report.Overall())
				return nil
			}

			report, reportPath, historyPath, err := c.Evaluator.RunFull(ctx, n)
			if err != nil {
				return err
			}
			fmt.Printf("evaluated %d questions, overall %.3f\nreport: %s\nhistory: %s\n",
				report.NumQuestions, report.Overall(), reportPath, historyPath)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num-questions", "n", 10, "number of questions for a full run")
	cmd.Flags().BoolVar(&batch, "batch", false, "evaluate the persisted test set instead of generating a new one")
	return cmd
}
