package eventual

import (
	"context"
	"log"
	"time"
)

// consolidationLoop runs ConsolidateAll on the configured interval until
// the plugin stops. A tick in flight finishes before shutdown completes.
func (p *Plugin) consolidationLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.Consolidation.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ConsolidateAll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("eventual: consolidation sweep: %v", err)
			}
		}
	}
}

// gcLoop sweeps applied transactions on the GC interval.
func (p *Plugin) gcLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.GarbageCollection.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.CollectGarbage(ctx); err != nil && ctx.Err() == nil {
				log.Printf("eventual: gc sweep: %v", err)
			}
		}
	}
}
