package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/partition"
	"github.com/stratadb/strata/internal/types"
)

func open(t *testing.T, cfg Config) (*Resource, objstore.Client) {
	t.Helper()
	client := objstore.NewMemory()
	r, err := New(cfg, client, eventbus.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r, client
}

func usersConfig() Config {
	return Config{
		Name: "users",
		Attributes: map[string]string{
			"name":   "string|required",
			"email":  "string",
			"age":    "number",
			"status": "string|default:active",
		},
		Behavior: types.BehaviorBodyOverflow,
		Partitions: []partition.Definition{
			{Name: "byStatus", Fields: []string{"status"}},
		},
	}
}

// foldingClient lowercases metadata keys on reads, the way S3 returns
// user metadata.
type foldingClient struct {
	objstore.Client
}

func foldMeta(obj *objstore.Object, err error) (*objstore.Object, error) {
	if err != nil {
		return nil, err
	}
	folded := make(objstore.Metadata, len(obj.Metadata))
	for k, v := range obj.Metadata {
		folded[strings.ToLower(k)] = v
	}
	obj.Metadata = folded
	return obj, nil
}

func (c *foldingClient) Get(ctx context.Context, key string) (*objstore.Object, error) {
	return foldMeta(c.Client.Get(ctx, key))
}

func (c *foldingClient) Head(ctx context.Context, key string) (*objstore.Object, error) {
	return foldMeta(c.Client.Head(ctx, key))
}

func TestCamelCaseAttributesThroughFoldingStore(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Name: "accounts",
		Attributes: map[string]string{
			"userName": "string|required",
			"signupIp": "ip4",
		},
		Behavior:   types.BehaviorBodyOverflow,
		Timestamps: true,
	}
	r, err := New(cfg, &foldingClient{Client: objstore.NewMemory()}, eventbus.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)

	if _, err := r.Insert(ctx, types.Record{"id": "u1", "userName": "ann", "signupIp": "10.1.2.3"}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got["userName"] != "ann" || got["signupIp"] != "10.1.2.3" {
		t.Errorf("got %v", got)
	}
	if _, ok := got["createdAt"]; !ok {
		t.Error("createdAt timestamp lost its casing")
	}
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	rec, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann", "age": 30})
	if err != nil {
		t.Fatal(err)
	}
	if rec["status"] != "active" {
		t.Errorf("default not applied: %v", rec["status"])
	}

	got, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "ann" || got["age"] != 30.0 {
		t.Errorf("got %v", got)
	}
}

func TestInsertGeneratesID(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	rec, err := r.Insert(ctx, types.Record{"name": "bea"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID() == "" {
		t.Fatal("no id generated")
	}
	if _, err := r.Get(ctx, rec.ID()); err != nil {
		t.Fatal(err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	if _, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Insert(ctx, types.Record{"id": "u1", "name": "other"})
	if !errors.Is(err, types.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsertValidationFails(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	_, err := r.Insert(ctx, types.Record{"id": "u1", "age": 30})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdatePatchSemantics(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, Config{
		Name: "users",
		Attributes: map[string]string{
			"name":        "string|required",
			"email":       "string",
			"prefs":       "object",
			"prefs.theme": "string",
		},
		Behavior: types.BehaviorBodyOverflow,
	})

	if _, err := r.Insert(ctx, types.Record{
		"id": "u1", "name": "ann", "email": "a@x.io",
		"prefs": map[string]any{"theme": "dark", "lang": "en"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Update(ctx, "u1", types.Record{
		"name":        "anne",
		"email":       nil,
		"prefs.theme": "light",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "anne" {
		t.Errorf("name = %v", got["name"])
	}
	if _, has := got["email"]; has {
		t.Error("nil patch value should delete the field")
	}
	if v, _ := got.GetPath("prefs.theme"); v != "light" {
		t.Errorf("prefs.theme = %v", v)
	}
	if v, _ := got.GetPath("prefs.lang"); v != "en" {
		t.Error("untouched nested field lost")
	}
}

func TestUpdateMissing(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())
	if _, err := r.Update(ctx, "nope", types.Record{"name": "x"}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	first, err := r.Upsert(ctx, types.Record{"id": "u1", "name": "ann"})
	if err != nil {
		t.Fatal(err)
	}
	if first["name"] != "ann" {
		t.Errorf("%v", first)
	}

	second, err := r.Upsert(ctx, types.Record{"id": "u1", "name": "anne", "age": 31})
	if err != nil {
		t.Fatal(err)
	}
	if second["name"] != "anne" || second["age"] != 31.0 {
		t.Errorf("upsert did not update: %v", second)
	}
}

func TestDeleteHard(t *testing.T) {
	ctx := context.Background()
	r, client := open(t, usersConfig())

	rec, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "u1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.Head(ctx, objstore.PrimaryKey("users", "u1")); !errors.Is(err, types.ErrNotFound) {
		t.Error("primary object survived hard delete")
	}

	// The partition index object must be gone too.
	def, _ := r.Partitions().Definition("byStatus")
	key, _ := def.Key("users", r.Schema(), rec)
	if _, err := client.Head(ctx, key); !errors.Is(err, types.ErrNotFound) {
		t.Error("index object survived delete")
	}
}

func TestDeleteParanoidTombstones(t *testing.T) {
	ctx := context.Background()
	cfg := usersConfig()
	cfg.Timestamps = true
	cfg.Paranoid = true
	r, client := open(t, cfg)

	if _, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	// Reads report not-found, but the primary object stays.
	if _, err := r.Get(ctx, "u1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	obj, err := client.Get(ctx, objstore.PrimaryKey("users", "u1"))
	if err != nil {
		t.Fatalf("tombstoned primary missing: %v", err)
	}
	if obj == nil {
		t.Fatal("nil object")
	}

	ok, err := r.Exists(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("tombstoned record reported as existing")
	}
}

func TestTimestamps(t *testing.T) {
	ctx := context.Background()
	cfg := usersConfig()
	cfg.Timestamps = true
	r, _ := open(t, cfg)

	rec, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"})
	if err != nil {
		t.Fatal(err)
	}
	created, _ := rec[FieldCreatedAt].(string)
	if created == "" {
		t.Fatal("createdAt not set")
	}

	updated, err := r.Update(ctx, "u1", types.Record{"name": "anne"})
	if err != nil {
		t.Fatal(err)
	}
	if updated[FieldCreatedAt] != created {
		t.Error("createdAt changed on update")
	}
	if updated[FieldUpdatedAt] == rec[FieldUpdatedAt] {
		// Same-nanosecond updates are possible but unlikely; tolerate only
		// monotonic equality of distinct writes when formats match exactly.
		t.Logf("updatedAt unchanged: %v", updated[FieldUpdatedAt])
	}
}

func TestHooksChainAndAbort(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	r.AddHook(BeforeInsert, func(_ context.Context, rec, _ types.Record) (types.Record, error) {
		out := rec.Clone()
		out["name"] = out["name"].(string) + "-1"
		return out, nil
	})
	r.AddHook(BeforeInsert, func(_ context.Context, rec, _ types.Record) (types.Record, error) {
		out := rec.Clone()
		out["name"] = out["name"].(string) + "-2"
		return out, nil
	})

	rec, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"})
	if err != nil {
		t.Fatal(err)
	}
	if rec["name"] != "ann-1-2" {
		t.Errorf("hooks did not chain in order: %v", rec["name"])
	}

	boom := errors.New("rejected")
	r.AddHook(BeforeInsert, func(_ context.Context, _, _ types.Record) (types.Record, error) {
		return nil, boom
	})
	if _, err := r.Insert(ctx, types.Record{"id": "u2", "name": "bea"}); !errors.Is(err, boom) {
		t.Fatalf("before-hook error should abort, got %v", err)
	}
	if _, err := r.Get(ctx, "u2"); !errors.Is(err, types.ErrNotFound) {
		t.Error("aborted insert still wrote the record")
	}
}

func TestAfterHookErrorsDoNotPropagate(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	var captured error
	r.AfterHookErrors = func(err error) { captured = err }
	boom := errors.New("after failed")
	r.AddHook(AfterInsert, func(_ context.Context, _, _ types.Record) (types.Record, error) {
		return nil, boom
	})

	if _, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"}); err != nil {
		t.Fatalf("after-hook error leaked to caller: %v", err)
	}
	if !errors.Is(captured, boom) {
		t.Errorf("captured = %v", captured)
	}
}

func TestEventsEmitted(t *testing.T) {
	ctx := context.Background()
	client := objstore.NewMemory()
	bus := eventbus.New()
	var seen []eventbus.EventType
	bus.Subscribe("test", func(_ context.Context, e *eventbus.Event) error {
		seen = append(seen, e.Type)
		return nil
	}, eventbus.EventAfterInsert, eventbus.EventAfterUpdate, eventbus.EventAfterDelete)

	r, err := New(usersConfig(), client, bus)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Update(ctx, "u1", types.Record{"name": "anne"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	want := []eventbus.EventType{eventbus.EventAfterInsert, eventbus.EventAfterUpdate, eventbus.EventAfterDelete}
	if len(seen) != len(want) {
		t.Fatalf("events = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("u%02d", i)
		if _, err := r.Insert(ctx, types.Record{"id": id, "name": "n" + id}); err != nil {
			t.Fatal(err)
		}
	}

	var ids []string
	cursor := ""
	for {
		page, err := r.List(ctx, ListOptions{Limit: 5, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range page.Records {
			ids = append(ids, rec.ID())
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	if len(ids) != 12 {
		t.Fatalf("listed %d records", len(ids))
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("listing not id-ordered")
	}
}

func TestQueryPartition(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	for i, status := range []string{"active", "banned", "active"} {
		id := fmt.Sprintf("u%d", i)
		if _, err := r.Insert(ctx, types.Record{"id": id, "name": "n", "status": status}); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := r.Query(ctx, "byStatus", map[string]any{"status": "active"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("query returned %d records", len(recs))
	}
	for _, rec := range recs {
		if rec["status"] != "active" {
			t.Errorf("wrong record in partition scan: %v", rec)
		}
	}

	if _, err := r.Query(ctx, "nope", nil); err == nil {
		t.Error("unknown partition should fail")
	}
	if _, err := r.Query(ctx, "byStatus", map[string]any{"other": 1}); err == nil {
		t.Error("filter outside the partition should fail")
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	for i := 0; i < 4; i++ {
		if _, err := r.Insert(ctx, types.Record{"id": fmt.Sprintf("u%d", i), "name": "n"}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d", n)
	}
	n, err = r.Count(ctx, "byStatus")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("partition count = %d", n)
	}
}

func TestBulkOperations(t *testing.T) {
	ctx := context.Background()
	r, _ := open(t, usersConfig())

	recs := make([]types.Record, 6)
	for i := range recs {
		recs[i] = types.Record{"id": fmt.Sprintf("u%d", i), "name": fmt.Sprintf("n%d", i)}
	}
	results, err := r.InsertMany(ctx, recs)
	if err != nil {
		t.Fatal(err)
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("insert %d: %v", i, res.Err)
		}
		if res.ID != recs[i].ID() {
			t.Errorf("result order broken: slot %d holds %s", i, res.ID)
		}
	}

	got, err := r.GetMany(ctx, []string{"u0", "missing", "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Err != nil || got[2].Err != nil {
		t.Errorf("existing records errored: %v / %v", got[0].Err, got[2].Err)
	}
	if !errors.Is(got[1].Err, types.ErrNotFound) {
		t.Errorf("missing slot = %v", got[1].Err)
	}

	deleted, err := r.DeleteMany(ctx, []string{"u0", "u1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range deleted {
		if res.Err != nil {
			t.Fatal(res.Err)
		}
	}
	n, _ := r.Count(ctx, "")
	if n != 4 {
		t.Errorf("count after bulk delete = %d", n)
	}
}

func TestUpdateMovesPartitionIndex(t *testing.T) {
	ctx := context.Background()
	r, client := open(t, usersConfig())

	rec, err := r.Insert(ctx, types.Record{"id": "u1", "name": "ann", "status": "active"})
	if err != nil {
		t.Fatal(err)
	}
	def, _ := r.Partitions().Definition("byStatus")
	oldKey, _ := def.Key("users", r.Schema(), rec)

	updated, err := r.Update(ctx, "u1", types.Record{"status": "banned"})
	if err != nil {
		t.Fatal(err)
	}
	newKey, _ := def.Key("users", r.Schema(), updated)

	if _, err := client.Head(ctx, newKey); err != nil {
		t.Fatalf("new index object missing: %v", err)
	}
	if _, err := client.Head(ctx, oldKey); !errors.Is(err, types.ErrNotFound) {
		t.Error("stale index object survived")
	}
}
