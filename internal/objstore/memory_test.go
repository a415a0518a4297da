package objstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stratadb/strata/internal/types"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	meta := Metadata{"_s": "1", "name": "ann"}
	if err := c.Put(ctx, "resource=t/id=1", meta, []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatal(err)
	}

	obj, err := c.Get(ctx, "resource=t/id=1")
	if err != nil {
		t.Fatal(err)
	}
	if string(obj.Body) != `{"a":1}` || obj.Metadata["name"] != "ann" {
		t.Errorf("got %+v", obj)
	}

	// Mutating the returned object must not leak into the store.
	obj.Metadata["name"] = "changed"
	obj.Body[0] = 'X'
	again, _ := c.Get(ctx, "resource=t/id=1")
	if again.Metadata["name"] != "ann" || string(again.Body) != `{"a":1}` {
		t.Error("returned object aliases stored state")
	}

	head, err := c.Head(ctx, "resource=t/id=1")
	if err != nil {
		t.Fatal(err)
	}
	if head.Body != nil {
		t.Error("Head should not return a body")
	}
	if head.Size != int64(len(`{"a":1}`)) {
		t.Errorf("size = %d", head.Size)
	}

	if err := c.Delete(ctx, "resource=t/id=1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "resource=t/id=1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "resource=t/id=1"); err != nil {
		t.Errorf("idempotent delete: %v", err)
	}
}

func TestMemoryListPagination(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("resource=t/id=%03d", i)
		if err := c.Put(ctx, key, Metadata{}, nil, "application/octet-stream"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Put(ctx, "resource=other/id=x", Metadata{}, nil, ""); err != nil {
		t.Fatal(err)
	}

	var all []string
	token := ""
	pages := 0
	for {
		page, err := c.List(ctx, "resource=t/", token, 10)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, page.Keys...)
		if len(page.Entries) != len(page.Keys) {
			t.Fatalf("entries/keys mismatch: %d vs %d", len(page.Entries), len(page.Keys))
		}
		pages++
		if !page.Truncated {
			break
		}
		token = page.NextToken
	}
	if len(all) != 25 {
		t.Fatalf("listed %d keys, want 25", len(all))
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatal("listing is not sorted")
		}
	}
}

func TestMemoryListEmptyPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	page, err := c.List(ctx, "resource=none/", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Keys) != 0 || page.Truncated {
		t.Errorf("got %+v", page)
	}
}
