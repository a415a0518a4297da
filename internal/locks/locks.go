// Package locks implements named exclusive leases over the object store.
//
// Locks are advisory: the store offers no compare-and-swap, so Acquire
// writes the lease object and verifies ownership with a read-back. A
// lease expired past its TTL may be re-acquired by anyone; the original
// holder detects the steal by the acquiredAt mismatch at release time and
// must not commit. No other subsystem writes under the locks prefix.
package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stratadb/strata/internal/idgen"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/types"
)

// DefaultTTL is the lease timeout when the caller passes zero.
const DefaultTTL = 60 * time.Second

// Manager acquires and releases leases on behalf of one owner identity.
type Manager struct {
	client objstore.Client
	owner  string
}

// Lease is one held lock.
type Lease struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`

	mgr *Manager
}

// NewManager builds a manager with a process-unique owner identity.
func NewManager(client objstore.Client) *Manager {
	host, _ := os.Hostname()
	return &Manager{
		client: client,
		owner:  fmt.Sprintf("%s-%d-%s", host, os.Getpid(), idgen.New()),
	}
}

// Owner returns the manager's owner identity.
func (m *Manager) Owner() string { return m.owner }

// Acquire takes the named lease for ttl. When another live holder owns
// it, returns types.ErrLockHeld. Expired leases are taken over.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := objstore.LockKey(name)
	now := time.Now().UTC()

	cur, err := m.load(ctx, key)
	switch {
	case err == nil:
		if cur.ExpiresAt.After(now) && cur.Owner != m.owner {
			return nil, types.NewError(types.ErrLockHeld, "LOCK_HELD", "lease held",
				"key", name, "owner", cur.Owner, "expiresAt", cur.ExpiresAt)
		}
	case errors.Is(err, types.ErrNotFound):
		// free
	default:
		return nil, err
	}

	lease := &Lease{
		Key:        name,
		Owner:      m.owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		mgr:        m,
	}
	if err := m.store(ctx, key, lease); err != nil {
		return nil, err
	}

	// Read-back: without CAS two writers can race the put; the one whose
	// write survived owns the lease.
	check, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if check.Owner != m.owner || !check.AcquiredAt.Equal(now) {
		return nil, types.NewError(types.ErrLockHeld, "LOCK_RACE", "lost acquisition race",
			"key", name, "owner", check.Owner)
	}
	return lease, nil
}

// Release frees the lease. A lease stolen after TTL expiry is detected by
// the acquiredAt mismatch; the stale holder gets types.ErrLockHeld and
// must not treat its work as committed.
func (l *Lease) Release(ctx context.Context) error {
	key := objstore.LockKey(l.Key)
	cur, err := l.mgr.load(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Owner != l.Owner || !cur.AcquiredAt.Equal(l.AcquiredAt) {
		return types.NewError(types.ErrLockHeld, "LOCK_STOLEN", "lease was taken over",
			"key", l.Key, "owner", cur.Owner)
	}
	return l.mgr.client.Delete(ctx, key)
}

// Held reports whether the lease is still owned by this holder and not
// expired. Holders of long work should check before committing.
func (l *Lease) Held(ctx context.Context) bool {
	if time.Now().UTC().After(l.ExpiresAt) {
		return false
	}
	cur, err := l.mgr.load(ctx, objstore.LockKey(l.Key))
	if err != nil {
		return false
	}
	return cur.Owner == l.Owner && cur.AcquiredAt.Equal(l.AcquiredAt)
}

func (m *Manager) load(ctx context.Context, key string) (*Lease, error) {
	obj, err := m.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := json.Unmarshal(obj.Body, &lease); err != nil {
		return nil, types.NewError(types.ErrPermanent, "LOCK_CORRUPT", err.Error(), "key", key)
	}
	lease.mgr = m
	return &lease, nil
}

func (m *Manager) store(ctx context.Context, key string, lease *Lease) error {
	body, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	return m.client.Put(ctx, key, objstore.Metadata{}, body, "application/json")
}
