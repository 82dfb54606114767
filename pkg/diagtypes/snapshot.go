package diagtypes

import "time"

// SnapshotType declares which subsystem a snapshot captures.
type SnapshotType string

const (
	SnapshotConfiguration SnapshotType = "configuration"
	SnapshotDatabase      SnapshotType = "database"
	SnapshotFilesystem    SnapshotType = "filesystem"
	SnapshotComposite     SnapshotType = "composite"
)

// SnapshotScope declares what subset of a target system a snapshot
// captures.
type SnapshotScope struct {
	SystemID      string
	ComponentPath string
	Type          SnapshotType
}

// Snapshot is an opaque, integrity-checked capture usable for restore.
type Snapshot struct {
	ID        string
	Checksum  string
	Timestamp time.Time
	Scope     SnapshotScope
	Payload   []byte
	TTL       time.Duration
	refCount  int
}

// ExpiresAt returns the instant after which the snapshot is eligible
// for expiry, absent a pin.
func (s *Snapshot) ExpiresAt() time.Time {
	return s.Timestamp.Add(s.TTL)
}

// Pinned reports whether an in-flight remediation still references
// this snapshot.
func (s *Snapshot) Pinned() bool {
	return s.refCount > 0
}

// Pin increments the reference count, preventing expiry.
func (s *Snapshot) Pin() {
	s.refCount++
}

// Release decrements the reference count on attempt termination.
func (s *Snapshot) Release() {
	if s.refCount > 0 {
		s.refCount--
	}
}
