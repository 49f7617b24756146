// Package main provides the irb CLI for corpus ingestion and study evaluation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/irb-compliance/internal/app"
	"github.com/bull/irb-compliance/internal/config"
	"github.com/bull/irb-compliance/internal/ingest"
	"github.com/bull/irb-compliance/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:          "irb",
	Short:        "IRB study compliance evaluation tool",
	Long:         "CLI tool for indexing IRB reference documents and evaluating study proposals against them",
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index reference documents",
	Long: `Indexes reference documents into the vector index.

Without flags the default documents are indexed once; later runs are skipped
until --force is given. --dir and --repo index another source every time.

Environment variables:
  OPENAI_API_KEY          OpenAI API key for embeddings (required)
  GROQ_API_KEY            Groq API key for completions (required)
  INDEX_BACKEND           file, sqlite or qdrant (default: file)
  DATA_DIR                Directory for the file and sqlite stores (default: data)
  DEFAULT_DOCUMENTS_DIR   Default documents directory (default: default_documents)
  DEFAULT_DOCUMENTS_REPO  owner/repo/path on GitHub, replaces the directory
  GITHUB_TOKEN            GitHub token for higher rate limits (optional)`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file>",
	Short: "Evaluate a study proposal",
	Long:  "Evaluates a plain-text study proposal for IRB compliance. Use - to read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the reference index status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	ingestDir   string
	ingestRepo  string
	ingestForce bool

	evalFull bool
	evalJSON bool
)

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "index .txt and .md files from this directory")
	ingestCmd.Flags().StringVar(&ingestRepo, "repo", "", "index files from a GitHub location (owner/repo/path)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-index the default documents even if already processed")
	ingestCmd.MarkFlagsMutuallyExclusive("dir", "repo")

	evaluateCmd.Flags().BoolVar(&evalFull, "full", false, "print the per-section evaluation")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the result as JSON")

	rootCmd.AddCommand(ingestCmd, evaluateCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("Failed to initialize: %w", err)
	}
	return ctx, cancel, a, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	out := cmd.OutOrStdout()
	var result *ingest.IndexResult
	switch {
	case ingestDir != "":
		result, err = a.Ingest.IndexAll(ctx, ingest.NewDirSource(ingestDir))
	case ingestRepo != "":
		src, srcErr := app.NewGitHubSource(ingestRepo, a.Config.GitHubToken)
		if srcErr != nil {
			return srcErr
		}
		result, err = a.Ingest.IndexAll(ctx, src)
	case ingestForce:
		src, srcErr := a.DefaultSource()
		if srcErr != nil {
			return srcErr
		}
		result, err = a.Ingest.IndexAll(ctx, src)
	default:
		result, err = a.IngestDefaults(ctx)
	}
	if err != nil {
		return fmt.Errorf("Indexing failed: %w", err)
	}

	printIndexResult(out, result)
	return nil
}

func printIndexResult(w io.Writer, result *ingest.IndexResult) {
	if result.Skipped {
		fmt.Fprintln(w, "Default documents already processed. Use --force to re-index.")
		return
	}

	fmt.Fprintln(w, "Ingest complete!")
	fmt.Fprintf(w, "  Source: %s\n", result.Source)
	fmt.Fprintf(w, "  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Fprintf(w, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(w, "  Duration: %s\n", result.Duration.Round(time.Second))
	if result.Revision != "" {
		fmt.Fprintf(w, "  Revision: %s\n", result.Revision)
	}

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(w, "  - %s: %s\n", failed.Ref, failed.Reason)
		}
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	study, err := readStudy(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	ctx, cancel, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	ctx, cancelTimeout := context.WithTimeout(ctx, a.Config.RequestTimeout)
	defer cancelTimeout()

	result, err := a.Evaluator.Query(ctx, study)
	if err != nil {
		return fmt.Errorf("Evaluation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if evalJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSON(result))
	}
	printResult(out, result, evalFull)
	return nil
}

func readStudy(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read study: %w", err)
	}
	return string(data), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend: %s\n", a.Config.IndexBackend)
	if err := a.Health(ctx); err != nil {
		fmt.Fprintf(out, "Health: %s\n", bad.Sprint(err))
		return nil
	}
	fmt.Fprintf(out, "Health: %s\n", good.Sprint("ok"))

	count, err := a.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("Failed to count chunks: %w", err)
	}
	fmt.Fprintf(out, "Chunks: %d\n", count)

	processed, err := a.Store.Exists(ctx, storage.DefaultDocumentsFlagKey)
	if err != nil {
		return fmt.Errorf("Failed to read ingest flag: %w", err)
	}
	fmt.Fprintf(out, "Default documents processed: %t\n", processed)
	return nil
}
