// Package lease implements short-TTL exclusive claims as blobs in the
// object store. A lease guards generation of a single article: the
// create-if-absent put is the only cross-replica coordination surface in
// the pipeline.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/storage"
)

// ErrHeld indicates another holder owns an unexpired lease.
var ErrHeld = errors.New("lease held by another holder")

// Result reports the outcome of an Acquire call.
type Result struct {
	OK            bool
	AlreadyHeldBy string
	ExpiresAt     time.Time
}

// Manager acquires and releases leases in a single container.
type Manager struct {
	store     storage.Store
	container string

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewManager creates a lease manager over the given container.
func NewManager(store storage.Store, container string) *Manager {
	return &Manager{store: store, container: container, now: time.Now}
}

// Acquire attempts to claim key for holder. An existing blob whose expiry
// has passed is treated as absent: it is deleted and the claim re-raced
// through another conditional create, so two replicas recovering the same
// expired lease still resolve to a single winner.
func (m *Manager) Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (Result, error) {
	blobName := models.LeaseBlobPath(key)
	now := m.now().UTC()

	record := models.Lease{
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling lease: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err = m.store.Put(ctx, m.container, blobName, body, storage.PutOptions{
			ContentType: "application/json",
			IfNoneMatch: "*",
		})
		if err == nil {
			return Result{OK: true, ExpiresAt: record.ExpiresAt}, nil
		}
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			return Result{}, fmt.Errorf("acquiring lease %s: %w", key, err)
		}

		existing, gerr := m.read(ctx, blobName)
		if gerr != nil {
			if errors.Is(gerr, storage.ErrNotFound) {
				// Holder released between our put and read; retry the create.
				continue
			}
			return Result{}, gerr
		}

		if !existing.Expired(now) {
			return Result{OK: false, AlreadyHeldBy: existing.HolderID, ExpiresAt: existing.ExpiresAt}, nil
		}

		// Expired lease: clear it and re-race the conditional create.
		if derr := m.store.Delete(ctx, m.container, blobName); derr != nil {
			return Result{}, fmt.Errorf("clearing expired lease %s: %w", key, derr)
		}
	}

	return Result{}, fmt.Errorf("acquiring lease %s: %w", key, ErrHeld)
}

// Release deletes the lease only when holder matches. Releasing a lease
// that is not held is a no-op.
func (m *Manager) Release(ctx context.Context, key, holderID string) error {
	blobName := models.LeaseBlobPath(key)

	existing, err := m.read(ctx, blobName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.HolderID != holderID {
		return nil
	}
	return m.store.Delete(ctx, m.container, blobName)
}

// Heartbeat extends the expiry of a lease the holder still owns.
func (m *Manager) Heartbeat(ctx context.Context, key, holderID string, newTTL time.Duration) error {
	blobName := models.LeaseBlobPath(key)

	existing, err := m.read(ctx, blobName)
	if err != nil {
		return err
	}
	if existing.HolderID != holderID {
		return fmt.Errorf("heartbeat on lease %s: %w", key, ErrHeld)
	}

	existing.ExpiresAt = m.now().UTC().Add(newTTL)
	body, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshaling lease: %w", err)
	}
	return m.store.Put(ctx, m.container, blobName, body, storage.PutOptions{ContentType: "application/json"})
}

func (m *Manager) read(ctx context.Context, blobName string) (models.Lease, error) {
	data, err := m.store.Get(ctx, m.container, blobName)
	if err != nil {
		return models.Lease{}, err
	}
	var l models.Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return models.Lease{}, fmt.Errorf("decoding lease blob %s: %w", blobName, err)
	}
	return l, nil
}
