// Package lease implements advisory, expiring locks stored in a kv.Store so
// separate processes sharing one store do not run migration or sync at the
// same time.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/kv"
)

// ErrHeld is returned when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease held by another owner")

// Record is the persisted form of a lease.
type Record struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Manager acquires and releases leases on behalf of one owner.
type Manager struct {
	store kv.Store
	owner string
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewManager returns a manager that takes leases for owner, each valid for ttl.
func NewManager(store kv.Store, owner string, ttl time.Duration) *Manager {
	return &Manager{store: store, owner: owner, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func key(name string) string {
	return kv.KeyLeasePrefix + name
}

// Get returns the current record for name, or nil when none is stored.
func (m *Manager) Get(ctx context.Context, name string) (*Record, error) {
	data, err := m.store.Get(ctx, key(name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease.Get: %s: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("lease.Get: decode %s: %w", name, err)
	}
	return &rec, nil
}

// Acquire takes the lease called name. An expired lease, or one already
// held by this owner, is taken over. The returned release func gives the
// lease back if this owner still holds it.
//
// The record is created with SetNX, and a stale record is only removed while
// it is unchanged, so two owners racing for the same lease cannot both win.
func (m *Manager) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec := Record{Owner: m.owner, AcquiredAt: now, ExpiresAt: now.Add(m.ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("lease.Acquire: encode: %w", err)
	}
	release := func(ctx context.Context) error {
		return m.release(ctx, name)
	}

	for attempt := 0; attempt < 3; attempt++ {
		ok, err := m.store.SetNX(ctx, key(name), data)
		if err != nil {
			return nil, fmt.Errorf("lease.Acquire: %s: %w", name, err)
		}
		if ok {
			return release, nil
		}

		raw, err := m.store.Get(ctx, key(name))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lease.Acquire: %s: %w", name, err)
		}
		// An unreadable record is treated as expired.
		var current Record
		if json.Unmarshal(raw, &current) == nil && current.Owner != m.owner && now.Before(current.ExpiresAt) {
			return nil, fmt.Errorf("lease.Acquire: %s: %w (owner %s until %s)",
				name, ErrHeld, current.Owner, current.ExpiresAt.Format(time.RFC3339))
		}
		if _, err := m.store.CompareAndDelete(ctx, key(name), raw); err != nil {
			return nil, fmt.Errorf("lease.Acquire: %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("lease.Acquire: %s: %w (contended)", name, ErrHeld)
}

func (m *Manager) release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.store.Get(ctx, key(name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lease.Release: %s: %w", name, err)
	}
	var current Record
	if err := json.Unmarshal(raw, &current); err != nil || current.Owner != m.owner {
		return nil
	}
	if _, err := m.store.CompareAndDelete(ctx, key(name), raw); err != nil {
		return fmt.Errorf("lease.Release: %s: %w", name, err)
	}
	return nil
}
