package partition

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/types"
)

// DefaultWorkers is the async fan-out pool size (partition.concurrency).
const DefaultWorkers = 10

// Engine keeps partition index objects in step with primary objects.
//
// In async mode (the default) index writes are submitted to a worker pool
// and the caller returns as soon as the primary object is durable. Tasks
// for the same record id always land on the same worker, so per-record
// ordering is preserved. Sync mode applies the fan-out inline.
type Engine struct {
	client   objstore.Client
	resource string
	schema   *schema.Schema
	defs     []Definition
	async    bool

	queues  []chan task
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	// ErrorHook receives failures from async workers and the reconciler.
	// Defaults to logging.
	ErrorHook func(error)
}

type task struct {
	ctx     context.Context
	puts    []string
	deletes []string
}

// NewEngine builds an engine; workers <= 0 selects DefaultWorkers.
func NewEngine(client objstore.Client, resource string, s *schema.Schema, defs []Definition, async bool, workers int) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	e := &Engine{
		client:   client,
		resource: resource,
		schema:   s,
		defs:     defs,
		async:    async,
		ErrorHook: func(err error) {
			log.Printf("partition: %v", err)
		},
	}
	if async {
		e.queues = make([]chan task, workers)
		for i := range e.queues {
			e.queues[i] = make(chan task, 256)
		}
	}
	return e
}

// Definitions returns the declared partitions.
func (e *Engine) Definitions() []Definition { return e.defs }

// Definition returns a declared partition by name.
func (e *Engine) Definition(name string) (*Definition, bool) {
	for i := range e.defs {
		if e.defs[i].Name == name {
			return &e.defs[i], true
		}
	}
	return nil, false
}

// Start launches the async workers. No-op in sync mode.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.async || e.started {
		return
	}
	e.started = true
	for _, q := range e.queues {
		e.wg.Add(1)
		go e.worker(q)
	}
}

// Stop drains queued work and waits for the workers to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) worker(q chan task) {
	defer e.wg.Done()
	for t := range q {
		e.run(t)
	}
}

func (e *Engine) run(t task) {
	ctx := t.ctx
	if ctx == nil || ctx.Err() != nil {
		// Detach from the caller's deadline; the primary write already
		// returned and the index must still converge.
		ctx = context.Background()
	}
	for _, key := range t.deletes {
		if err := e.client.Delete(ctx, key); err != nil {
			e.ErrorHook(err)
		}
	}
	for _, key := range t.puts {
		if err := e.putIndex(ctx, key); err != nil {
			e.ErrorHook(err)
		}
	}
}

func (e *Engine) putIndex(ctx context.Context, key string) error {
	meta := objstore.Metadata{"_s": schema.Version}
	return e.client.Put(ctx, key, meta, nil, "application/octet-stream")
}

func (e *Engine) apply(ctx context.Context, puts, deletes []string) error {
	var firstErr error
	for _, key := range deletes {
		if err := e.client.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, key := range puts {
		if err := e.putIndex(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) submit(ctx context.Context, id string, puts, deletes []string) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	if !e.async {
		return e.apply(ctx, puts, deletes)
	}
	h := fnv.New32a()
	h.Write([]byte(id))

	// The started check and the send stay under the mutex: Stop closes
	// the queues under the same mutex, so a racing submit either lands
	// before the close or falls back to the inline path.
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return e.apply(ctx, puts, deletes)
	}
	q := e.queues[int(h.Sum32())%len(e.queues)]
	q <- task{ctx: context.WithoutCancel(ctx), puts: puts, deletes: deletes}
	e.mu.Unlock()
	return nil
}

// OnInsert fans out index objects for a freshly inserted record.
func (e *Engine) OnInsert(ctx context.Context, rec types.Record) error {
	puts, err := e.keysFor(rec)
	if err != nil {
		return err
	}
	return e.submit(ctx, rec.ID(), puts, nil)
}

// OnUpdate rewrites indexes whose partition key changed: the stale index
// object is deleted and the new one written.
func (e *Engine) OnUpdate(ctx context.Context, old, new types.Record) error {
	var puts, deletes []string
	for i := range e.defs {
		d := &e.defs[i]
		if !d.Changed(e.schema, old, new) {
			continue
		}
		if oldKey, err := d.Key(e.resource, e.schema, old); err == nil {
			deletes = append(deletes, oldKey)
		}
		newKey, err := d.Key(e.resource, e.schema, new)
		if err != nil {
			return err
		}
		puts = append(puts, newKey)
	}
	return e.submit(ctx, new.ID(), puts, deletes)
}

// OnDelete removes all index objects for a record.
func (e *Engine) OnDelete(ctx context.Context, rec types.Record) error {
	deletes, err := e.keysFor(rec)
	if err != nil {
		return err
	}
	return e.submit(ctx, rec.ID(), nil, deletes)
}

func (e *Engine) keysFor(rec types.Record) ([]string, error) {
	keys := make([]string, 0, len(e.defs))
	for i := range e.defs {
		key, err := e.defs[i].Key(e.resource, e.schema, rec)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Reconcile repairs index drift left by crashes: primary objects modified
// within the window are checked for their expected index objects, and
// missing ones are rewritten. Invoked at resource open and periodically.
func (e *Engine) Reconcile(ctx context.Context, window time.Duration, load func(context.Context, string) (types.Record, error)) error {
	if len(e.defs) == 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-window)
	prefix := objstore.ResourcePrefix(e.resource)
	token := ""
	for {
		page, err := e.client.List(ctx, prefix, token, 0)
		if err != nil {
			return err
		}
		for _, entry := range page.Entries {
			if window > 0 && !entry.LastModified.IsZero() && entry.LastModified.Before(cutoff) {
				continue
			}
			id := objstore.IDFromKey(entry.Key)
			if id == "" {
				continue
			}
			if err := e.reconcileRecord(ctx, id, load); err != nil {
				e.ErrorHook(err)
			}
		}
		if !page.Truncated {
			return nil
		}
		token = page.NextToken
	}
}

func (e *Engine) reconcileRecord(ctx context.Context, id string, load func(context.Context, string) (types.Record, error)) error {
	rec, err := load(ctx, id)
	if err != nil {
		return err
	}
	keys, err := e.keysFor(rec)
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := e.client.Head(ctx, key)
		if err == nil {
			continue
		}
		if types.IsRetryable(err) {
			return err
		}
		if perr := e.putIndex(ctx, key); perr != nil {
			return perr
		}
	}
	return nil
}
