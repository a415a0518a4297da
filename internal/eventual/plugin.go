// Package eventual implements the eventual-consistency plugin: per-field
// transaction logs, lock-guarded consolidation into primary records,
// cohort analytics, recovery checkpoints, and applied-transaction GC.
package eventual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/locks"
	"github.com/stratadb/strata/internal/partition"
	"github.com/stratadb/strata/internal/plugin"
	"github.com/stratadb/strata/internal/resource"
	"github.com/stratadb/strata/internal/types"
)

// PluginName is the registered plugin identifier.
const PluginName = "eventual-consistency"

// Partition names on the transaction resource.
const (
	partByOriginalIDAndApplied = "byOriginalIdAndApplied"
	partByApplied              = "byApplied"
	partByCohortHour           = "byCohortHour"
	partByCohortDay            = "byCohortDay"
	partByCohortWeek           = "byCohortWeek"
	partByCohortMonth          = "byCohortMonth"
)

// stream is the runtime for one (target resource, field) pair: its
// transaction log, analytics rollups, and checkpoints.
type stream struct {
	target *resource.Resource
	field  string

	tx *resource.Resource
	an *resource.Resource
	ck *resource.Resource

	// anMu serializes analytics read-modify-writes: cohort cells are
	// shared across records, so consolidators for different ids must not
	// fold into the same cell concurrently.
	anMu sync.Mutex
}

// Plugin is the eventual-consistency plugin. Configure, install on a
// database, then route numeric mutations through Add/Sub/Set.
type Plugin struct {
	cfg   Config
	loc   *time.Location
	bus   *eventbus.Bus
	locks *locks.Manager

	// streams: target resource name -> field -> stream
	streams map[string]map[string]*stream

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the config and builds the plugin. Install wires it to a
// database.
func New(cfg Config) (*Plugin, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(full.Cohort.Timezone)
	if err != nil {
		return nil, err
	}
	return &Plugin{
		cfg:     full,
		loc:     loc,
		streams: make(map[string]map[string]*stream),
	}, nil
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return PluginName }

// Config returns the effective configuration after defaulting.
func (p *Plugin) Config() Config { return p.cfg }

// Install creates the internal transaction, analytics, and checkpoint
// resources for every configured (resource, field) pair. The target
// resources must already exist on the host.
func (p *Plugin) Install(ctx context.Context, host plugin.Host) error {
	p.bus = host.Bus()
	p.locks = host.Locks()

	for resName, fields := range p.cfg.Resources {
		target, ok := host.Resource(resName)
		if !ok {
			return fmt.Errorf("eventual: target resource %q is not open", resName)
		}
		for _, field := range fields {
			s, err := p.openStream(ctx, host, target, field)
			if err != nil {
				return err
			}
			if p.streams[resName] == nil {
				p.streams[resName] = make(map[string]*stream)
			}
			p.streams[resName][field] = s
		}
	}
	return nil
}

func (p *Plugin) openStream(ctx context.Context, host plugin.Host, target *resource.Resource, field string) (*stream, error) {
	tx, err := host.EnsureResource(ctx, resource.Config{
		Name: internalName(target.Name(), "tx", field),
		Attributes: map[string]string{
			"originalId":  "string|required",
			"field":       "string|required",
			"value":       "number|required",
			"operation":   "string|required|enum:add,sub,set",
			"timestamp":   "date|required",
			"cohortHour":  "string|required",
			"cohortDay":   "string|required",
			"cohortWeek":  "string|required",
			"cohortMonth": "string|required",
			"applied":     "boolean|required",
			"appliedAt":   "date|optional",
		},
		Partitions: []partition.Definition{
			{Name: partByOriginalIDAndApplied, Fields: []string{"originalId", "applied"}},
			{Name: partByApplied, Fields: []string{"applied"}},
			{Name: partByCohortHour, Fields: []string{"cohortHour"}},
			{Name: partByCohortDay, Fields: []string{"cohortDay"}},
			{Name: partByCohortWeek, Fields: []string{"cohortWeek"}},
			{Name: partByCohortMonth, Fields: []string{"cohortMonth"}},
		},
	})
	if err != nil {
		return nil, err
	}

	an, err := host.EnsureResource(ctx, resource.Config{
		Name: internalName(target.Name(), "an", field),
		Attributes: map[string]string{
			"period":      "string|required|enum:hour,day,week,month",
			"cohort":      "string|required",
			"count":       "number|required",
			"sum":         "number|required",
			"min":         "number|required",
			"max":         "number|required",
			"avg":         "number|required",
			"recordCount": "number|required",
			"operations":  "json|optional",
			"recordIds":   "json|optional",
		},
		Behavior: types.BehaviorBodyOnly,
	})
	if err != nil {
		return nil, err
	}

	ck, err := host.EnsureResource(ctx, resource.Config{
		Name: internalName(target.Name(), "ck", field),
		Attributes: map[string]string{
			"cohort":    "string|required",
			"value":     "number|required",
			"minTxId":   "string|required",
			"maxTxId":   "string|required",
			"createdAt": "date|required",
		},
	})
	if err != nil {
		return nil, err
	}

	return &stream{target: target, field: field, tx: tx, an: an, ck: ck}, nil
}

// internalName builds a plugin resource name like plg_wallets_tx_balance.
// Dots in field paths flatten to dashes.
func internalName(target, kind, field string) string {
	flat := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		if field[i] == '.' {
			flat = append(flat, '-')
		} else {
			flat = append(flat, field[i])
		}
	}
	return "plg_" + target + "_" + kind + "_" + string(flat)
}

// Start launches the auto-consolidation and GC loops and emits the
// started event.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	if p.cfg.Consolidation.Mode == ModeAsync && p.cfg.Consolidation.Auto {
		p.wg.Add(1)
		go p.consolidationLoop(loopCtx)
	}
	if p.cfg.GarbageCollection.Enabled {
		p.wg.Add(1)
		go p.gcLoop(loopCtx)
	}

	p.emit(ctx, eventbus.EventECStarted, "", nil, nil)
	return nil
}

// Stop cancels the loops, drains in-flight work, and emits stopped.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.emit(ctx, eventbus.EventECStopped, "", nil, nil)
	return nil
}

// stream resolves the runtime for a managed (resource, field) pair.
func (p *Plugin) stream(resName, field string) (*stream, error) {
	if s, ok := p.streams[resName][field]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("eventual: field %q of resource %q is not managed", field, resName)
}

// Streams lists the managed (resource, field) pairs.
func (p *Plugin) Streams() map[string][]string {
	out := make(map[string][]string, len(p.streams))
	for res, fields := range p.streams {
		for f := range fields {
			out[res] = append(out[res], f)
		}
	}
	return out
}

func (p *Plugin) emit(ctx context.Context, t eventbus.EventType, res string, payload map[string]any, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Dispatch(ctx, &eventbus.Event{
		Type:     t,
		Resource: res,
		Payload:  payload,
		Err:      err,
		Time:     time.Now().UTC(),
	})
}
