// Package findingstore defines the Finding Store port:
// persistence for Findings keyed by their deterministic identity.
// The kernel depends only on this interface; pkg/findingstore/memstore
// and pkg/findingstore/sqlstore are two interchangeable
// implementations of it.
package findingstore

import (
	"context"

	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
)

// Filter narrows ListOpen to a subset of a system's open findings.
type Filter struct {
	Category string
	Severity diagtypes.Severity // zero value means "any severity"
}

// Store is the Finding Store port. The kernel assumes per-call
// atomicity only, no cross-finding transactions.
type Store interface {
	// Upsert merges finding into the store by its identity key:
	// detectedAt is preserved and occurrenceCount/lastSeenAt are
	// refreshed on a re-detection.
	Upsert(ctx context.Context, finding *diagtypes.Finding) error

	// ListOpen returns findings for systemID where resolved=false,
	// narrowed by filter.
	ListOpen(ctx context.Context, systemID string, filter Filter) ([]*diagtypes.Finding, error)

	// Get returns a single finding by identity key.
	Get(ctx context.Context, key diagtypes.FindingKey) (*diagtypes.Finding, bool, error)

	// MarkResolved closes a finding.
	MarkResolved(ctx context.Context, key diagtypes.FindingKey, by string) error

	// Acknowledge flags a finding as seen by an operator without
	// closing it.
	Acknowledge(ctx context.Context, key diagtypes.FindingKey, by string) error

	// MarkFalsePositive flags a finding false-positive, which also
	// clears its remediable flag.
	MarkFalsePositive(ctx context.Context, key diagtypes.FindingKey, by string) error
}
