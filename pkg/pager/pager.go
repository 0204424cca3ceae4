package pager

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"vkharvest/pkg/config"
	"vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
)

// pageSize is the item count of one page; offsets are measured in pages
const pageSize = 100

// Source is a paginated remote collection the pager can walk. Both
// methods issue rate-gated round trips; FetchBatch covers width pages
// starting at the given page offset in a single scripted call.
type Source interface {
	Total(ctx context.Context) (int, error)
	FetchBatch(ctx context.Context, offset, width, total int) ([]json.RawMessage, error)
}

// Pager walks an entire paginated collection to completion, hiding
// round-trip batching and failure recovery from the caller. When a batch
// is rejected the same offset is retried with a narrower script; there is
// no other retry strategy. A Pager is stateless across FetchAll calls and
// safe to reuse; each collection fetch starts at the full batch width.
type Pager struct {
	width  int
	floor  int
	step   int
	pause  time.Duration
	logger logger.Logger

	// Injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pager from the harvest configuration
func New(cfg *config.HarvestConfig, log logger.Logger) *Pager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pager{
		width:  cfg.BatchWidth,
		floor:  cfg.BatchWidthFloor,
		step:   cfg.BatchWidthStep,
		pause:  cfg.BatchPause,
		logger: log,
		sleep:  sleepContext,
	}
}

// FetchAll retrieves every item of the collection, in the order the
// remote API emits them. Item count equals the probed total unless the
// server reports anomalies. A batch width narrowed below the floor
// aborts the whole collection fetch.
func (p *Pager) FetchAll(ctx context.Context, src Source) ([]json.RawMessage, error) {
	total, err := src.Total(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe collection size: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	p.logger.DebugWithFields("collection probed", map[string]interface{}{
		"total": total,
	})

	items := make([]json.RawMessage, 0, total)
	offset := 0 // in pages
	width := p.width

	for offset*pageSize < total {
		batch, err := src.FetchBatch(ctx, offset, width, total)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !narrowable(err) {
				return nil, fmt.Errorf("batch fetch failed: %w", err)
			}

			// Narrow the script and retry the same offset. The response
			// may hold up to width*100 entries, which the server sometimes
			// refuses to assemble; fewer calls per request is the fix.
			width -= p.step
			p.logger.WarnWithFields("batch rejected, narrowing", map[string]interface{}{
				"offset": offset,
				"width":  width,
				"error":  err.Error(),
			})
			if width < p.floor {
				return nil, fmt.Errorf("batch width fell below floor %d: %w", p.floor, err)
			}
			continue
		}

		items = append(items, batch...)
		offset += width

		p.logger.DebugWithFields("batch fetched", map[string]interface{}{
			"items":  len(batch),
			"offset": offset,
			"width":  width,
		})

		// Collection-level pacing on top of the per-request gate
		if offset*pageSize < total {
			if err := p.sleep(ctx, p.pause); err != nil {
				return nil, err
			}
		}
	}

	return items, nil
}

// narrowable reports whether a batch failure should shrink the script
// rather than abort the fetch.
func narrowable(err error) bool {
	var apiErr *errors.Error
	if stderrors.As(err, &apiErr) {
		return errors.IsNarrowable(apiErr.Type)
	}
	// Malformed responses arrive as plain errors; treat them like a
	// rejected batch.
	return true
}

// sleepContext sleeps for d or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
