package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/time/rate"

	"github.com/aniasusual/xray/internal/model"
)

// ReplayResult counts the outcome of a Replay pass.
type ReplayResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`  // transport failures, file kept for the next pass
	Invalid   int `json:"invalid"` // unreadable or undecodable, file kept for inspection
}

// Replay re-submits every fallback file in dir, oldest name first, and
// removes the files the store accepts. Each file gets one attempt; the
// fallback policy is not applied again. limiter paces the requests and may be
// nil. A missing directory is not an error.
//
// Replay submits even when the client's configuration disables tracing, since
// it is only ever invoked explicitly.
func Replay(ctx context.Context, c *Client, dir string, limiter *rate.Limiter) (ReplayResult, error) {
	var res ReplayResult

	paths, err := filepath.Glob(filepath.Join(dir, FallbackGlob))
	if err != nil {
		return res, fmt.Errorf("delivery: list fallback files: %w", err)
	}
	slices.Sort(paths)

	for _, path := range paths {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return res, fmt.Errorf("delivery: replay: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("delivery: replay: %w", err)
		}

		data, err := os.ReadFile(path) //nolint:gosec // path comes from a glob over the fallback dir
		if err != nil {
			c.logger.Warn("delivery: read fallback file", "path", path, "error", err)
			res.Invalid++
			continue
		}
		b, err := model.Decode(data)
		if err != nil {
			c.logger.Warn("delivery: skip invalid fallback file", "path", path, "error", err)
			res.Invalid++
			continue
		}

		if err := c.transmit(ctx, b.Run.ID, data); err != nil {
			c.logger.Warn("delivery: replay failed", "path", path, "run_id", b.Run.ID, "error", err)
			res.Failed++
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.Warn("delivery: remove replayed file", "path", path, "error", err)
		}
		res.Delivered++
		c.logger.Info("delivery: replayed trace", "path", path, "run_id", b.Run.ID, "pipeline", b.Run.PipelineName)
	}
	return res, nil
}
