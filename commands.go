package regionews

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Commands returns the CLI subcommands. cfg is read when a command runs, so
// it may be filled in by the root command's pre-run hook.
func Commands(cfg *Config) []*cobra.Command {
	return []*cobra.Command{
		ingestCmd(cfg),
		enrichCmd(cfg),
		analyzeCmd(cfg),
		compareCmd(cfg),
		showCmd(cfg),
		cleanCmd(cfg),
	}
}

func openConfiguredStore(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return OpenStore(ctx, cfg.Store.Path)
}

func closeStore(s *Store) {
	if err := s.Close(); err != nil {
		zap.L().Warn("failed to close store", zap.Error(err))
	}
}

func loadWindow(ctx context.Context, cfg *Config, s *Store) ([]Document, error) {
	since, err := cfg.Since(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	docs, err := s.LoadDocuments(ctx, since)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded documents", zap.Int("count", len(docs)), zap.Time("since", since))
	return docs, nil
}

func ingestCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file.jsonl...]",
		Short: "Load geotagged articles from JSON Lines files into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			total := 0
			for _, path := range args {
				docs, err := ReadDocuments(path)
				if err != nil {
					return err
				}
				if err := store.UpsertDocuments(ctx, docs); err != nil {
					return err
				}
				zap.L().Info("ingested file", zap.String("path", path), zap.Int("documents", len(docs)))
				total += len(docs)
			}
			cmd.Printf("Ingested %d documents.\n", total)
			return nil
		},
	}
}

// maxLineBytes bounds one JSON Lines record; article bodies can be long.
const maxLineBytes = 4 << 20

// ReadDocuments parses a JSON Lines file of documents. Documents without an
// id get one derived from their URL, or from their title and source.
func ReadDocuments(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer func() { _ = f.Close() }()

	var docs []Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, eris.Wrapf(err, "ingest: %s line %d", path, line)
		}
		if doc.ID == "" {
			key := doc.URL
			if key == "" {
				key = doc.Source + "\x00" + doc.Title
			}
			doc.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return docs, nil
}

func enrichCmd(cfg *Config) *cobra.Command {
	var skipScores bool
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Embed and score stored articles missing enrichment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cfg.OpenAI.APIKey == "" {
				return eris.New("enrich: openai.api_key is not set")
			}
			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			docs, err := loadWindow(ctx, cfg, store)
			if err != nil {
				return err
			}

			client := NewOpenAIClient(cfg.OpenAI)
			embedder := NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel)
			var scorer OutcomeScorer
			if !skipScores {
				s, err := NewOpenAISentimentScorer(client, cfg.OpenAI.ScoringModel)
				if err != nil {
					return err
				}
				scorer = s
			}

			before := make([]bool, len(docs))
			for i, doc := range docs {
				before[i] = len(doc.Embedding) > 0 && (skipScores || doc.Outcome != nil)
			}
			stats, err := Enrich(ctx, docs, embedder, scorer, cfg.OpenAI.Concurrency)
			if err != nil {
				return err
			}
			for i, doc := range docs {
				if before[i] {
					continue
				}
				if err := store.UpdateEnrichment(ctx, doc.ID, doc.Embedding, doc.Outcome); err != nil {
					return err
				}
			}
			cmd.Printf("Embedded %d, scored %d, failed %d.\n", stats.Embedded, stats.Scored, stats.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipScores, "skip-scores", false, "only compute embeddings")
	return cmd
}

func analyzeCmd(cfg *Config) *cobra.Command {
	var localOnly bool
	var scope string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Cluster stored articles into regional narratives and estimate regional outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			docs, err := loadWindow(ctx, cfg, store)
			if err != nil {
				return err
			}

			opts := cfg.Options()
			if cmd.Flags().Changed("local-only") {
				opts.LocalOnly = localOnly
			}
			if scope != "" {
				opts.RegionalScope = scope
			}

			analysis, err := Analyze(ctx, docs, opts)
			if err != nil {
				return err
			}
			runID, err := store.SaveRun(ctx, analysis)
			if err != nil {
				return err
			}

			path, err := writeReports(cfg.Report, analysis)
			if err != nil {
				return err
			}
			cmd.Printf("Run %s: %d clusters, report written to %s\n", runID, len(analysis.Assignment.Clusters), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "cluster only articles not flagged as syndicated")
	cmd.Flags().StringVar(&scope, "scope", "", "regional scope: location or cluster")
	return cmd
}

func writeReports(cfg ReportConfig, analysis *Analysis) (string, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", cfg.Dir)
	}

	var md strings.Builder
	if err := WriteMarkdownReport(&md, analysis); err != nil {
		return "", err
	}
	mdPath := filepath.Join(cfg.Dir, "report.md")
	if err := os.WriteFile(mdPath, []byte(md.String()), 0o644); err != nil {
		return "", eris.Wrapf(err, "report: write %s", mdPath)
	}
	if !cfg.HTML {
		return mdPath, nil
	}

	page, err := RenderHTML(md.String(), analysis.CreatedAt)
	if err != nil {
		return "", err
	}
	htmlPath := filepath.Join(cfg.Dir, "report.html")
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return "", eris.Wrapf(err, "report: write %s", htmlPath)
	}
	return htmlPath, nil
}

func compareCmd(cfg *Config) *cobra.Command {
	var weight float64
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare fixed spatial weighting against adaptive syndication-aware weighting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			docs, err := loadWindow(ctx, cfg, store)
			if err != nil {
				return err
			}
			opts := cfg.Options()
			if cmd.Flags().Changed("weight") {
				if weight < 0 || weight > 1 {
					return eris.Wrapf(ErrInvalidInput, "compare: weight %v outside [0,1]", weight)
				}
				opts.SpatialWeight = weight
			}

			comparison, err := CompareWeighting(ctx, docs, opts)
			if err != nil {
				return err
			}
			return WriteComparisonReport(cmd.OutOrStdout(), comparison)
		},
	}
	cmd.Flags().Float64Var(&weight, "weight", 0, "fixed spatial weight (defaults to analysis.spatial_weight)")
	return cmd
}

func showCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the regional estimates of a stored run (the latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			var id string
			if len(args) > 0 {
				id = args[0]
			}
			run, err := store.LoadRun(ctx, id)
			if err != nil {
				return err
			}
			estimates, err := store.LoadEstimates(ctx, run.ID)
			if err != nil {
				return err
			}
			return WriteRunReport(cmd.OutOrStdout(), run, estimates)
		},
	}
}

func cleanCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove generated reports and stored analysis runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, name := range []string{"report.md", "report.html"} {
				path := filepath.Join(cfg.Report.Dir, name)
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					zap.L().Warn("failed to remove report", zap.String("path", path), zap.Error(err))
				}
			}

			store, err := openConfiguredStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)
			n, err := store.PurgeRuns(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Removed reports and %d stored runs.\n", n)
			return nil
		},
	}
}
