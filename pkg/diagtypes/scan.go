// Package diagtypes holds the kernel's core domain types:
// Scan, DiagnosticRule, RuleCondition, Finding, RemediationAction,
// RemediationAttempt, and Snapshot. Objects reference each other by id
// only, never by pointer, so the kernel is an arena-by-id graph whose
// ownership belongs to the respective store.
package diagtypes

import (
	"fmt"
	"time"
)

// ScanStatus is the Scan state machine.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether status admits no further transitions.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	default:
		return false
	}
}

// scanTransitions enumerates the legal Scan state machine edges:
// pending -> running -> {completed|failed|cancelled}, plus the direct
// pending -> cancelled edge for a scan cancelled before it starts.
var scanTransitions = map[ScanStatus]map[ScanStatus]bool{
	ScanPending: {ScanRunning: true, ScanCancelled: true},
	ScanRunning: {ScanCompleted: true, ScanFailed: true, ScanCancelled: true},
}

// CanTransitionScan reports whether a Scan may move from `from` to `to`.
func CanTransitionScan(from, to ScanStatus) bool {
	edges, ok := scanTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// TriggerKind records what caused a scan to be created.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerEvent     TriggerKind = "event"
	TriggerAPI       TriggerKind = "api"
)

// SeverityCounts aggregates findings by severity within a scan.
type SeverityCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Info     int
}

// Add increments the count bucket matching sev.
func (c *SeverityCounts) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	case SeverityInfo:
		c.Info++
	}
}

// Total returns the sum across all severities.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

// ScanOptions carries createScan's caller-supplied parameters.
type ScanOptions struct {
	RuleIDs     []string
	Categories  []string
	TriggerKind TriggerKind
	TriggeredBy string
	ScheduledAt *time.Time
}

// Scan is one unit of diagnostic work against a target system.
type Scan struct {
	ID               string
	SystemID         string
	Options          ScanOptions
	Status           ScanStatus
	Progress         int
	CountsBySeverity SeverityCounts
	CountsByCategory map[string]int
	FailureReason    string
	ScheduledAt      *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// NewScan constructs a Scan in its initial pending state.
func NewScan(id, systemID string, opts ScanOptions) *Scan {
	return &Scan{
		ID:               id,
		SystemID:         systemID,
		Options:          opts,
		Status:           ScanPending,
		ScheduledAt:      opts.ScheduledAt,
		CountsByCategory: map[string]int{},
	}
}

// Transition moves the scan to `to`, enforcing the scan invariants:
// monotonic progression, terminal immutability, completedAt >= startedAt,
// and progress == 100 iff status == completed.
func (s *Scan) Transition(to ScanStatus, at time.Time) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("illegal_state: scan %s is terminal (%s), cannot transition to %s", s.ID, s.Status, to)
	}
	if !CanTransitionScan(s.Status, to) {
		return fmt.Errorf("illegal_state: scan %s cannot transition %s -> %s", s.ID, s.Status, to)
	}
	switch to {
	case ScanRunning:
		s.StartedAt = &at
	case ScanCompleted, ScanFailed, ScanCancelled:
		s.CompletedAt = &at
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
		if to == ScanCompleted {
			s.Progress = 100
		}
	}
	s.Status = to
	return nil
}

// SetProgress updates progress, clamped to [0,100]. A completed scan's
// progress is fixed at 100 by Transition and never revisited here.
func (s *Scan) SetProgress(pct int) {
	if s.Status.IsTerminal() {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.Progress = pct
}
