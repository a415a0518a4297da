package eventual

import (
	"context"
	"time"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/types"
)

// CollectGarbage hard-deletes applied transactions older than the
// retention window across all managed streams. Unapplied transactions
// are never deleted, whatever their age; checkpoints summarize the
// history GC removes.
func (p *Plugin) CollectGarbage(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.GarbageCollection.RetentionDays)
	deleted := 0

	for resName, fields := range p.streams {
		for _, s := range fields {
			n, err := p.sweepStream(ctx, s, cutoff)
			deleted += n
			if err != nil {
				gcErr := types.NewError(types.ErrGC, "EC_GC_SWEEP", err.Error(),
					"resource", resName, "field", s.field)
				p.emit(ctx, eventbus.EventECGCError, resName, nil, gcErr)
				return deleted, gcErr
			}
		}
	}

	p.emit(ctx, eventbus.EventECGCCompleted, "", map[string]any{"deletedCount": deleted}, nil)
	return deleted, nil
}

func (p *Plugin) sweepStream(ctx context.Context, s *stream, cutoff time.Time) (int, error) {
	recs, err := s.tx.Query(ctx, partByApplied, map[string]any{"applied": true})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range recs {
		tx := recordTx(rec)
		if !tx.Applied || tx.AppliedAt == nil || !tx.AppliedAt.Before(cutoff) {
			continue
		}
		if err := s.tx.Delete(ctx, tx.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
