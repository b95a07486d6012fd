package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"rca-backend/internal/bootstrap"
	"rca-backend/internal/incident"
	"rca-backend/internal/retrieval"
	"rca-backend/internal/scenarios"
	"rca-backend/internal/shared/config"
	localstore "rca-backend/internal/shared/storage/object/local"
)

// errAnalysisFailed marks a run that ended with a fatal error event.
var errAnalysisFailed = errors.New("analysis failed")

type eventSource interface {
	Run(ctx context.Context, in incident.Input) <-chan incident.Event
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rca",
		Short:        "Incident root-cause analysis from tiered logs",
		SilenceUsage: true,
	}
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newIngestCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	var (
		scenarioDir string
		query       string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a scenario directory holding web.log, app.log, db.log and cache.log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logs, err := loadScenarioDir(ctx, scenarioDir)
			if err != nil {
				return err
			}

			cfg := config.Load()
			store, err := bootstrap.BuildStore(ctx, cfg)
			if err != nil {
				return err
			}
			client, err := bootstrap.BuildLLM(cfg)
			if err != nil {
				return err
			}
			runner, _, err := bootstrap.BuildRunner(cfg, store, client)
			if err != nil {
				return err
			}
			return runAnalyze(ctx, cmd.OutOrStdout(), runner, incident.Input{Query: query, Logs: logs}, asJSON)
		},
	}
	cmd.Flags().StringVar(&scenarioDir, "scenario", "", "Directory with <tier>.log files")
	cmd.Flags().StringVar(&query, "query", "", "Incident description passed to the summarizer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final result as JSON")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func loadScenarioDir(ctx context.Context, dir string) (map[incident.Tier]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scenario dir: %w", err)
	}
	loader := &scenarios.Loader{Store: localstore.New(filepath.Dir(abs)), Root: "."}
	return loader.Load(ctx, filepath.Base(abs))
}

type analyzeResult struct {
	RCA          *incident.RCAPayload    `json:"rca"`
	Runbooks     []incident.RunbookMatch `json:"runbooks"`
	RunbookError string                  `json:"runbook_error,omitempty"`
}

// runAnalyze prints status lines as they arrive and the result at the end.
func runAnalyze(ctx context.Context, out io.Writer, runner eventSource, in incident.Input, asJSON bool) error {
	result := analyzeResult{Runbooks: []incident.RunbookMatch{}}
	events := runner.Run(ctx, in)
loop:
	for {
		var ev incident.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, open := <-events:
			if !open {
				break loop
			}
			ev = next
		}
		switch ev.Type {
		case incident.EventStatus:
			if !asJSON {
				fmt.Fprintf(out, "... %s\n", ev.Message)
			}
		case incident.EventRCAComplete:
			result.RCA = ev.RCA
		case incident.EventRunbookComplete:
			result.Runbooks = ev.Runbooks
			if ev.Err != nil {
				result.RunbookError = ev.Err.Error()
			}
		case incident.EventError:
			return fmt.Errorf("%w: %s", errAnalysisFailed, ev.Message)
		}
	}
	if result.RCA == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: no result produced", errAnalysisFailed)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(out, result)
	return nil
}

func printResult(out io.Writer, result analyzeResult) {
	rca := result.RCA
	fmt.Fprintf(out, "\nRoot cause: %s\n", orNone(rca.RootCause))
	if strings.TrimSpace(rca.Summary) != "" {
		fmt.Fprintf(out, "\n%s\n", rca.Summary)
	}
	if len(rca.Recommendations) > 0 {
		fmt.Fprintln(out, "\nRecommendations:")
		for _, r := range rca.Recommendations {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	if len(rca.Evidence) > 0 {
		fmt.Fprintln(out, "\nEvidence:")
		for _, e := range rca.Evidence {
			fmt.Fprintf(out, "  - %s\n", firstLine(e))
		}
	}
	if len(result.Runbooks) > 0 {
		fmt.Fprintln(out, "\nRunbooks:")
		for _, m := range result.Runbooks {
			fmt.Fprintf(out, "  * %s (%s)\n", m.ActionTitle, m.SourceURL)
			for i, step := range m.Steps {
				fmt.Fprintf(out, "      %d. %s\n", i+1, step)
			}
		}
	}
	if result.RunbookError != "" {
		fmt.Fprintf(out, "\nRunbook lookup failed: %s\n", result.RunbookError)
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newIngestCmd() *cobra.Command {
	var (
		file  string
		class string
	)
	cmd := &cobra.Command{
		Use:   "ingest-runbooks",
		Short: "Chunk a runbook JSON corpus and import it into Weaviate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if strings.TrimSpace(cfg.WeaviateURL) == "" {
				return errors.New("WEAVIATE_URL is required")
			}
			if class == "" {
				class = cfg.WeaviateClass
			}
			chunks, err := loadRunbookChunks(file)
			if err != nil {
				return err
			}

			client, err := retrieval.NewWeaviateClient(cfg.WeaviateURL)
			if err != nil {
				return err
			}
			store := retrieval.NewWeaviate(client, class)
			ctx := cmd.Context()
			if err := store.EnsureClass(ctx); err != nil {
				return err
			}
			n, err := store.Import(ctx, chunks)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d chunks into %s\n", n, class)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Runbook corpus: JSON array of {page_content, metadata}")
	cmd.Flags().StringVar(&class, "class", "", "Weaviate class (defaults to WEAVIATE_CLASS)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadRunbookChunks(path string) ([]retrieval.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	docs, err := retrieval.ParseRunbookCorpus(data)
	if err != nil {
		return nil, err
	}
	return retrieval.NewSplitter(retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap).Split(docs)
}
