package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/aniasusual/xray"
)

func newReplayCommand(logger *slog.Logger) *cobra.Command {
	var (
		dir   string
		perS  float64
		burst int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-submit traces saved by the log fallback",
		Long: `Replay posts every trace_*.json file in the fallback directory to the
trace store, one attempt each, and deletes the files the store accepts.
Files that fail stay in place for the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tracer, err := xray.New(cfg, xray.WithLogger(logger))
			if err != nil {
				return err
			}

			limit := rate.Inf
			if perS > 0 {
				limit = rate.Limit(perS)
			}
			start := time.Now()
			res, err := tracer.Replay(cmd.Context(), dir, rate.NewLimiter(limit, max(burst, 1)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, failed %d, invalid %d in %s\n",
				res.Delivered, res.Failed, res.Invalid, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "fallback directory (default: XRAY_FALLBACK_LOG_PATH)")
	cmd.Flags().Float64Var(&perS, "rate", 10, "maximum requests per second (0 for unlimited)")
	cmd.Flags().IntVar(&burst, "burst", 1, "maximum burst of requests")
	cmd.Flags().String("api-url", "", "override the trace store URL")
	return cmd
}
