package processor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
)

// BatchItem is the per-request result of ProcessBatch. Exactly one of
// Record and Err is set.
type BatchItem struct {
	PhoneNumber string
	Record      *extractor.CallRecord
	Degraded    bool
	Err         error
}

// ProcessBatch runs every request independently. A failing item never stops
// the others, and results keep request order.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []CallRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			items[i] = p.processItem(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	p.logger.Info("batch processed", "calls", len(items), "failed", failed)
	return items
}

func (p *Processor) processItem(ctx context.Context, req CallRequest) (item BatchItem) {
	item.PhoneNumber = req.PhoneNumber
	defer func() {
		if r := recover(); r != nil {
			item.Record = nil
			item.Err = fmt.Errorf("process call: %v", r)
		}
	}()

	out, err := p.Process(ctx, req)
	if err != nil {
		item.Err = err
		return item
	}
	item.Record = out.Record
	item.Degraded = out.Degraded
	return item
}
