// Package memstore is the kernel's in-memory Finding Store reference
// implementation: the store the diagkerneld daemon wires into the
// Facade (which has no default and requires one), and the
// implementation exercised by Orchestrator and Remediation Engine unit
// tests.
package memstore

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore"
)

// Store is a mutex-guarded map keyed by diagtypes.FindingKey.
type Store struct {
	mu       sync.RWMutex
	findings map[diagtypes.FindingKey]*diagtypes.Finding
}

// New returns an empty Store.
func New() *Store {
	return &Store{findings: map[diagtypes.FindingKey]*diagtypes.Finding{}}
}

var _ findingstore.Store = (*Store)(nil)

// Upsert merges finding by identity key: a re-detection
// of an open finding keeps the earliest detectedAt, the latest
// lastSeenAt, and the highest occurrenceCount, so the resulting state
// is the same no matter what order a finding stream is applied in.
// The Scanner Framework
// normally hands in already-coalesced findings; the merge here is the
// store-level backstop for streams that arrive out of order.
func (s *Store) Upsert(ctx context.Context, finding *diagtypes.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findings[finding.Key]; ok && existing.IsOpen() {
		if existing.DetectedAt.Before(finding.DetectedAt) {
			finding.DetectedAt = existing.DetectedAt
		}
		if existing.LastSeenAt.After(finding.LastSeenAt) {
			finding.LastSeenAt = existing.LastSeenAt
		}
		if existing.OccurrenceCount > finding.OccurrenceCount {
			finding.OccurrenceCount = existing.OccurrenceCount
		}
	}
	s.findings[finding.Key] = finding
	return nil
}

// ListOpen returns unresolved findings for systemID, optionally
// narrowed by category and/or severity.
func (s *Store) ListOpen(ctx context.Context, systemID string, filter findingstore.Filter) ([]*diagtypes.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*diagtypes.Finding
	for key, f := range s.findings {
		if key.SystemID != systemID || !f.IsOpen() {
			continue
		}
		if filter.Category != "" && key.Component != filter.Category {
			continue
		}
		if filter.Severity != "" && f.Severity != filter.Severity {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Get returns a single finding by identity key.
func (s *Store) Get(ctx context.Context, key diagtypes.FindingKey) (*diagtypes.Finding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.findings[key]
	return f, ok, nil
}

// MarkResolved closes an open finding.
func (s *Store) MarkResolved(ctx context.Context, key diagtypes.FindingKey, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.findings[key]
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "finding %s not found", key)
	}
	f.MarkResolved(by, timeNow())
	return nil
}

// Acknowledge flags a finding as seen without closing it.
func (s *Store) Acknowledge(ctx context.Context, key diagtypes.FindingKey, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.findings[key]
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "finding %s not found", key)
	}
	f.Acknowledged = true
	return nil
}

// MarkFalsePositive flags a finding as a false positive, clearing its
// remediable flag.
func (s *Store) MarkFalsePositive(ctx context.Context, key diagtypes.FindingKey, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.findings[key]
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "finding %s not found", key)
	}
	f.MarkFalsePositive()
	f.ResolvedBy = by
	return nil
}

func timeNow() time.Time { return time.Now() }
