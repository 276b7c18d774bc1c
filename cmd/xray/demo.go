package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aniasusual/xray"
)

type demoOptions struct {
	product   string
	count     int
	seed      uint64
	minRating float64
	maxPrice  float64
}

func newDemoCommand(logger *slog.Logger) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Trace a sample competitor-selection pipeline",
		Long: `Demo runs a five-step competitor-selection pipeline over generated
listings (keywords, search, filter, rank, select) and delivers the trace to
the configured store. Use it to check connectivity and fallback behaviour.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			shutdown, err := initTelemetry(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()

			tracer, err := xray.New(cfg, xray.WithLogger(logger))
			if err != nil {
				return err
			}
			runID, selected, err := runDemo(cmd.Context(), tracer, opts)
			if err != nil {
				return err
			}

			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), cfg.Timeout+time.Second)
			defer cancel()
			if err := tracer.Flush(flushCtx); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s selected %s\n", runID, selected)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.product, "product", "adjustable laptop stand", "reference product title")
	cmd.Flags().IntVar(&opts.count, "products", 500, "number of listings the search step returns")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "seed for the generated listings")
	cmd.Flags().Float64Var(&opts.minRating, "min-rating", 4.0, "filter: minimum rating")
	cmd.Flags().Float64Var(&opts.maxPrice, "max-price", 60, "filter: maximum price")
	cmd.Flags().String("api-url", "", "override the trace store URL")
	return cmd
}

// runDemo traces one pipeline run and returns its id and the chosen listing.
func runDemo(ctx context.Context, tracer *xray.Tracer, opts demoOptions) (string, string, error) {
	if opts.count < 1 {
		return "", "", fmt.Errorf("demo: --products must be positive, got %d", opts.count)
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed))

	var (
		runID    string
		selected string
	)
	err := tracer.Run(ctx, "competitor-selection", func(ctx context.Context, run *xray.RunScope) error {
		runID = run.ID().String()
		run.SetMetadata("reference_product", opts.product)

		var keywords []string
		err := run.Step(ctx, "generate_keywords", xray.StepLLM, func(_ context.Context, s *xray.StepScope) error {
			keywords = keywordsFor(opts.product)
			s.SetInputs(map[string]any{"product_title": opts.product})
			s.SetOutputs(map[string]any{"keywords": keywords})
			s.SetReasoning("expanded the title into its significant terms and pairs")
			s.AddMetadata("model", "mock-llm")
			return nil
		})
		if err != nil {
			return err
		}

		var found []xray.Candidate
		err = run.Step(ctx, "search", xray.StepSearch, func(_ context.Context, s *xray.StepScope) error {
			found = listings(rng, opts.count)
			s.SetInputs(map[string]any{"keywords": keywords})
			return s.SetCandidates(0, len(found), found)
		})
		if err != nil {
			return err
		}

		var kept []xray.Candidate
		err = run.Step(ctx, "filter", xray.StepFilter, func(_ context.Context, s *xray.StepScope) error {
			for _, c := range found {
				if c["rating"].(float64) >= opts.minRating && c["price"].(float64) <= opts.maxPrice {
					kept = append(kept, c)
				}
			}
			s.SetFilters(map[string]any{"min_rating": opts.minRating, "max_price": opts.maxPrice})
			s.SetReasoning(fmt.Sprintf("kept %d of %d listings", len(kept), len(found)))
			return s.SetCandidates(len(found), len(kept), kept)
		})
		if err != nil {
			return err
		}
		if len(kept) == 0 {
			return fmt.Errorf("demo: no listing passed the filter")
		}

		var ranked []xray.Candidate
		err = run.Step(ctx, "rank", xray.StepRank, func(_ context.Context, s *xray.StepScope) error {
			ranked = rank(kept)
			s.SetReasoning("ordered by rating weighted by log review count")
			return s.SetCandidates(len(kept), len(ranked), ranked)
		})
		if err != nil {
			return err
		}

		return run.Step(ctx, "select", xray.StepSelect, func(_ context.Context, s *xray.StepScope) error {
			best := ranked[0]
			selected = best["asin"].(string)
			s.SetOutputs(map[string]any{"selected": best})
			run.SetFinalOutput(map[string]any{"competitor": best})
			return s.SetCandidates(len(ranked), 1, ranked[:1])
		})
	}, xray.WithVersion(version))
	return runID, selected, err
}

var stopWords = map[string]bool{"a": true, "an": true, "the": true, "for": true, "with": true, "and": true}

func keywordsFor(title string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		if !stopWords[w] {
			words = append(words, w)
		}
	}
	out := slices.Clone(words)
	for i := 0; i+1 < len(words); i++ {
		out = append(out, words[i]+" "+words[i+1])
	}
	return out
}

var categories = []string{"stands", "risers", "docks", "trays"}

func listings(rng *rand.Rand, n int) []xray.Candidate {
	out := make([]xray.Candidate, n)
	for i := range out {
		out[i] = xray.Candidate{
			"asin":     fmt.Sprintf("B0%08d", rng.IntN(100_000_000)),
			"category": categories[rng.IntN(len(categories))],
			"price":    float64(rng.IntN(9000)+1000) / 100,
			"rating":   float64(rng.IntN(21)+30) / 10,
			"reviews":  rng.IntN(5000),
		}
	}
	return out
}

func score(c xray.Candidate) float64 {
	reviews := float64(c["reviews"].(int))
	weight := 1.0
	for r := reviews; r >= 10; r /= 10 {
		weight++
	}
	return c["rating"].(float64) * weight
}

func rank(in []xray.Candidate) []xray.Candidate {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b xray.Candidate) int {
		return cmp.Compare(score(b), score(a))
	})
	return out
}
