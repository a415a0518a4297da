package resource

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/idgen"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/types"
)

// Insert validates and stores a new record, fans out partition indexes,
// and fires afterInsert hooks. The stored record (defaults and timestamps
// applied) is returned. Inserting an existing id fails with
// types.ErrAlreadyExists.
func (r *Resource) Insert(ctx context.Context, rec types.Record) (types.Record, error) {
	rec = rec.Clone()
	if rec.ID() == "" {
		rec["id"] = idgen.New()
	}
	r.schema.ApplyDefaults(rec)
	if r.cfg.Timestamps {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		rec[FieldCreatedAt] = now
		rec[FieldUpdatedAt] = now
	}
	if err := r.schema.Validate(rec, false); err != nil {
		return nil, err
	}

	if _, err := r.client.Head(ctx, objstore.PrimaryKey(r.cfg.Name, rec.ID())); err == nil {
		return nil, types.NewError(types.ErrAlreadyExists, "RES_EXISTS", "record already exists",
			"resource", r.cfg.Name, "id", rec.ID())
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	rec, err := r.runBefore(ctx, BeforeInsert, rec, nil)
	if err != nil {
		return nil, err
	}

	if err := r.write(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.parts.OnInsert(ctx, rec); err != nil {
		return nil, err
	}

	r.runAfter(ctx, AfterInsert, rec, nil)
	r.emit(ctx, eventbus.EventAfterInsert, rec)
	return rec, nil
}

// Update reads the current record, merges the patch, validates the full
// result, and overwrites the primary object. Partition indexes whose key
// changed are rewritten (stale index deleted, new one written).
//
// Patch keys may be dotted paths into nested fields; a nil patch value
// removes the field.
func (r *Resource) Update(ctx context.Context, id string, patch types.Record) (types.Record, error) {
	old, err := r.read(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := old.Clone()
	applyPatch(merged, patch)
	merged["id"] = id
	if r.cfg.Timestamps {
		merged[FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := r.schema.Validate(merged, false); err != nil {
		return nil, err
	}

	merged, err = r.runBefore(ctx, BeforeUpdate, merged, old)
	if err != nil {
		return nil, err
	}

	// Best-effort overwrite: stores without conditional writes cannot
	// detect lost updates here.
	if err := r.write(ctx, merged); err != nil {
		return nil, err
	}
	if err := r.parts.OnUpdate(ctx, old, merged); err != nil {
		return nil, err
	}

	r.runAfter(ctx, AfterUpdate, merged, old)
	r.emit(ctx, eventbus.EventAfterUpdate, merged)
	return merged, nil
}

// Upsert inserts the record or, when the id already exists, applies it as
// an update patch.
func (r *Resource) Upsert(ctx context.Context, rec types.Record) (types.Record, error) {
	if rec.ID() == "" {
		return r.Insert(ctx, rec)
	}
	out, err := r.Insert(ctx, rec)
	if errors.Is(err, types.ErrAlreadyExists) {
		patch := rec.Clone()
		delete(patch, "id")
		return r.Update(ctx, rec.ID(), patch)
	}
	return out, err
}

// Get returns the record by id. Under paranoid mode, tombstoned records
// report types.ErrNotFound.
func (r *Resource) Get(ctx context.Context, id string) (types.Record, error) {
	rec, err := r.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.cfg.Paranoid {
		if _, dead := rec[FieldDeletedAt]; dead {
			return nil, types.NewError(types.ErrNotFound, "RES_DELETED", "record soft-deleted",
				"resource", r.cfg.Name, "id", id)
		}
	}
	return rec, nil
}

// Exists reports whether a live record with the id exists.
func (r *Resource) Exists(ctx context.Context, id string) (bool, error) {
	if !r.cfg.Paranoid {
		_, err := r.client.Head(ctx, objstore.PrimaryKey(r.cfg.Name, id))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, err := r.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Delete removes a record. Paranoid resources keep the primary object and
// mark it with a deletedAt tombstone; partition indexes are removed in
// both modes.
func (r *Resource) Delete(ctx context.Context, id string) error {
	rec, err := r.read(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.runBefore(ctx, BeforeDelete, rec, rec); err != nil {
		return err
	}

	if r.cfg.Paranoid {
		tomb := rec.Clone()
		tomb[FieldDeletedAt] = time.Now().UTC().Format(time.RFC3339Nano)
		if err := r.write(ctx, tomb); err != nil {
			return err
		}
	} else {
		if err := r.client.Delete(ctx, objstore.PrimaryKey(r.cfg.Name, id)); err != nil {
			return err
		}
	}
	if err := r.parts.OnDelete(ctx, rec); err != nil {
		return err
	}

	r.runAfter(ctx, AfterDelete, rec, rec)
	r.emit(ctx, eventbus.EventAfterDelete, rec)
	return nil
}

// read fetches and unpacks the primary object, tombstoned or not.
func (r *Resource) read(ctx context.Context, id string) (types.Record, error) {
	obj, err := r.client.Get(ctx, objstore.PrimaryKey(r.cfg.Name, id))
	if err != nil {
		return nil, err
	}
	return r.packer.Unpack(obj)
}

// write packs and stores the primary object.
func (r *Resource) write(ctx context.Context, rec types.Record) error {
	plan, err := r.packer.Pack(rec)
	if err != nil {
		return err
	}
	return r.client.Put(ctx, objstore.PrimaryKey(r.cfg.Name, rec.ID()), plan.Metadata, plan.Body, plan.ContentType)
}

// applyPatch merges patch fields into dst. Dotted keys address nested
// fields; nil values delete.
func applyPatch(dst types.Record, patch types.Record) {
	for k, v := range patch {
		switch {
		case v == nil:
			if strings.Contains(k, ".") {
				dst.DeletePath(k)
			} else {
				delete(dst, k)
			}
		case strings.Contains(k, "."):
			dst.SetPath(k, v)
		default:
			dst[k] = v
		}
	}
}
