// Package snapshot implements the Snapshot Manager:
// take/restore opaque component-state captures before a remediation
// mutates anything, with mandatory checksum verification and
// refcount-pinned expiry.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/metrics"
	"github.com/google/uuid"
)

// Capturer is the scope-specific mechanism that actually reads and
// writes a target system's state. A Connector-backed implementation,
// ConnectorCapturer, lives in this package; tests use a fake.
type Capturer interface {
	Capture(ctx context.Context, scope diagtypes.SnapshotScope) ([]byte, error)
	Restore(ctx context.Context, scope diagtypes.SnapshotScope, payload []byte) error
}

// Manager owns the snapshot catalog: creation, checksum-verified
// restore, and TTL expiry that respects in-flight pins.
type Manager struct {
	mu         sync.Mutex
	snapshots  map[string]*diagtypes.Snapshot
	capturer   Capturer
	defaultTTL time.Duration
	bus        *eventbus.Bus
}

// New constructs a Manager. defaultTTL is applied to every snapshot
// the Manager takes (Snapshot has no per-call TTL); callers pick a TTL
// comfortably past the longest remediation timeout.
func New(capturer Capturer, defaultTTL time.Duration) *Manager {
	return &Manager{
		snapshots:  map[string]*diagtypes.Snapshot{},
		capturer:   capturer,
		defaultTTL: defaultTTL,
	}
}

// WithBus attaches an Event Bus for snapshot lifecycle events
// (snapshot.created|restored|corrupt) and returns the same
// Manager for chaining at construction.
func (m *Manager) WithBus(bus *eventbus.Bus) *Manager {
	m.bus = bus
	return m
}

func (m *Manager) publish(topic eventbus.Topic, snap *diagtypes.Snapshot) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type:     topic,
		SystemID: snap.Scope.SystemID,
		Payload:  map[string]interface{}{"snapshotId": snap.ID, "type": string(snap.Scope.Type), "componentPath": snap.Scope.ComponentPath},
	})
}

// Snapshot captures scope's current state and returns the new
// snapshot's id.
func (m *Manager) Snapshot(ctx context.Context, scope diagtypes.SnapshotScope) (string, error) {
	payload, err := m.capturer.Capture(ctx, scope)
	if err != nil {
		metrics.RecordSnapshot("create", "error")
		return "", kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "capturing snapshot")
	}

	sum := sha256.Sum256(payload)
	snap := &diagtypes.Snapshot{
		ID:        uuid.NewString(),
		Checksum:  hex.EncodeToString(sum[:]),
		Timestamp: time.Now(),
		Scope:     scope,
		Payload:   payload,
		TTL:       m.defaultTTL,
	}

	m.mu.Lock()
	m.snapshots[snap.ID] = snap
	m.mu.Unlock()

	metrics.RecordSnapshot("create", "ok")
	m.publish(eventbus.TopicSnapshotCreated, snap)
	return snap.ID, nil
}

// Restore replays a snapshot's payload back onto its scope.
// Checksum verification is mandatory and happens before every restore
// attempt, including repeats. Restore is idempotent: replaying the
// same unmodified snapshot twice produces the same state both times.
func (m *Manager) Restore(ctx context.Context, snapshotID string) error {
	snap, ok := m.get(snapshotID)
	if !ok {
		metrics.RecordSnapshot("restore", "missing")
		return kerrors.Newf(kerrors.ErrorTypeSnapshotMissing, "snapshot %s not found", snapshotID)
	}

	sum := sha256.Sum256(snap.Payload)
	if hex.EncodeToString(sum[:]) != snap.Checksum {
		metrics.RecordSnapshot("restore", "corrupt")
		m.publish(eventbus.TopicSnapshotCorrupt, snap)
		return kerrors.Newf(kerrors.ErrorTypeSnapshotCorrupt, "snapshot %s checksum mismatch", snapshotID)
	}

	if err := m.capturer.Restore(ctx, snap.Scope, snap.Payload); err != nil {
		metrics.RecordSnapshot("restore", "error")
		return kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "restoring snapshot")
	}
	metrics.RecordSnapshot("restore", "ok")
	m.publish(eventbus.TopicSnapshotRestored, snap)
	return nil
}

// Expire removes snapshots whose TTL has elapsed as of now, skipping
// any snapshot still pinned by an in-flight remediation.
func (m *Manager) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, snap := range m.snapshots {
		if snap.Pinned() {
			continue
		}
		if now.Before(snap.ExpiresAt()) {
			continue
		}
		delete(m.snapshots, id)
		removed++
	}
	return removed
}

// Pin increments a snapshot's refcount so Expire leaves it alone
// while a remediation attempt is using it.
func (m *Manager) Pin(snapshotID string) error {
	snap, ok := m.get(snapshotID)
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeSnapshotMissing, "snapshot %s not found", snapshotID)
	}
	m.mu.Lock()
	snap.Pin()
	m.mu.Unlock()
	return nil
}

// Release decrements a snapshot's refcount on attempt termination.
func (m *Manager) Release(snapshotID string) error {
	snap, ok := m.get(snapshotID)
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeSnapshotMissing, "snapshot %s not found", snapshotID)
	}
	m.mu.Lock()
	snap.Release()
	m.mu.Unlock()
	return nil
}

// Get returns a snapshot by id, for callers (e.g. the Remediation
// Engine) that need its scope/timestamp without restoring it.
func (m *Manager) Get(snapshotID string) (*diagtypes.Snapshot, bool) {
	return m.get(snapshotID)
}

func (m *Manager) get(id string) (*diagtypes.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[id]
	return snap, ok
}
