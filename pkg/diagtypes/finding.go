package diagtypes

import (
	"fmt"
	"strings"
	"time"
)

// FindingKey is the deterministic identity key under which
// re-detections coalesce.
type FindingKey struct {
	SystemID     string
	RuleID       string
	Component    string
	ResourcePath string
}

func (k FindingKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.SystemID, k.RuleID, k.Component, k.ResourcePath)
}

// ParseFindingKey inverts FindingKey.String. The resource path keeps
// any slashes of its own: only the first three separators split.
func ParseFindingKey(s string) (FindingKey, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) != 4 {
		return FindingKey{}, fmt.Errorf("invalid finding key %q", s)
	}
	return FindingKey{SystemID: parts[0], RuleID: parts[1], Component: parts[2], ResourcePath: parts[3]}, nil
}

// Evidence carries a finding's observed-vs-expected values.
type Evidence struct {
	Actual     interface{}
	Expected   interface{}
	Difference interface{}
	Metadata   map[string]interface{}
}

// RemediationHistoryEntry records one past remediation attempt against
// a finding, by id only.
type RemediationHistoryEntry struct {
	AttemptID string
	ActionID  string
	At        time.Time
	Success   bool
}

// Finding is a recorded defect with identity, evidence, and lifecycle.
type Finding struct {
	Key            FindingKey
	Severity       Severity
	Title          string
	Description    string
	Impact         string
	Recommendation string
	Evidence       Evidence

	DetectedAt      time.Time
	LastSeenAt      time.Time
	OccurrenceCount int

	Remediable bool
	Actions    []RemediationActionRef
	History    []RemediationHistoryEntry

	Acknowledged  bool
	Resolved      bool
	ResolvedAt    *time.Time
	ResolvedBy    string
	FalsePositive bool
}

// NewFinding creates a fresh, first-detection Finding.
func NewFinding(key FindingKey, severity Severity, evidence Evidence, detectedAt time.Time) *Finding {
	return &Finding{
		Key:             key,
		Severity:        severity,
		Evidence:        evidence,
		DetectedAt:      detectedAt,
		LastSeenAt:      detectedAt,
		OccurrenceCount: 1,
	}
}

// ReDetect merges a repeated detection into f: increments
// occurrenceCount, advances lastSeenAt, refreshes evidence, but
// preserves detectedAt.
func (f *Finding) ReDetect(evidence Evidence, seenAt time.Time) {
	f.OccurrenceCount++
	f.LastSeenAt = seenAt
	f.Evidence = evidence
}

// MarkResolved closes the finding, enforcing "resolved => resolvedAt
// and resolvedBy set".
func (f *Finding) MarkResolved(by string, at time.Time) {
	f.Resolved = true
	f.ResolvedAt = &at
	f.ResolvedBy = by
}

// MarkFalsePositive enforces "falsePositive => not remediable".
func (f *Finding) MarkFalsePositive() {
	f.FalsePositive = true
	f.Remediable = false
}

// IsOpen reports whether f is still an active, unresolved finding:
// the predicate scanners use to decide whether a re-detection should
// coalesce with a prior occurrence.
func (f *Finding) IsOpen() bool {
	return !f.Resolved
}
