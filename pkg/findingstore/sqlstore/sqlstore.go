// Package sqlstore is a relational Finding Store adapter proving the
// findingstore.Store port is swappable: the kernel never imports this
// package directly, only the port it satisfies. It persists findings
// through database/sql via sqlx, with lib/pq as its driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store persists Findings in a `findings` table keyed by
// (system_id, rule_id, component, resource_path).
type Store struct {
	db *sqlx.DB
}

// New wraps an existing *sqlx.DB. Callers open the DB themselves
// (e.g. sqlx.Open("postgres", dsn)) so tests can substitute a
// DATA-DOG/go-sqlmock-backed *sql.DB via sqlx.NewDb.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewFromStdlib adapts a *sql.DB (as sqlmock.New returns) into a Store
// for testing without a live Postgres instance.
func NewFromStdlib(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

var _ findingstore.Store = (*Store)(nil)

type findingRow struct {
	SystemID        string     `db:"system_id"`
	RuleID          string     `db:"rule_id"`
	Component       string     `db:"component"`
	ResourcePath    string     `db:"resource_path"`
	Severity        string     `db:"severity"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Evidence        []byte     `db:"evidence"`
	DetectedAt      time.Time  `db:"detected_at"`
	LastSeenAt      time.Time  `db:"last_seen_at"`
	OccurrenceCount int        `db:"occurrence_count"`
	Remediable      bool       `db:"remediable"`
	Acknowledged    bool       `db:"acknowledged"`
	Resolved        bool       `db:"resolved"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	ResolvedBy      string     `db:"resolved_by"`
	FalsePositive   bool       `db:"false_positive"`
}

const upsertSQL = `
INSERT INTO findings (
	system_id, rule_id, component, resource_path, severity, title, description,
	evidence, detected_at, last_seen_at, occurrence_count, remediable,
	acknowledged, resolved, resolved_at, resolved_by, false_positive
) VALUES (
	:system_id, :rule_id, :component, :resource_path, :severity, :title, :description,
	:evidence, :detected_at, :last_seen_at, :occurrence_count, :remediable,
	:acknowledged, :resolved, :resolved_at, :resolved_by, :false_positive
)
ON CONFLICT (system_id, rule_id, component, resource_path) DO UPDATE SET
	severity = EXCLUDED.severity,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	evidence = EXCLUDED.evidence,
	last_seen_at = EXCLUDED.last_seen_at,
	occurrence_count = EXCLUDED.occurrence_count,
	remediable = EXCLUDED.remediable`

// Upsert persists finding by identity key.
func (s *Store) Upsert(ctx context.Context, finding *diagtypes.Finding) error {
	evidence, err := json.Marshal(finding.Evidence)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeInvalidInput, "marshalling finding evidence")
	}

	row := findingRow{
		SystemID:        finding.Key.SystemID,
		RuleID:          finding.Key.RuleID,
		Component:       finding.Key.Component,
		ResourcePath:    finding.Key.ResourcePath,
		Severity:        string(finding.Severity),
		Title:           finding.Title,
		Description:     finding.Description,
		Evidence:        evidence,
		DetectedAt:      finding.DetectedAt,
		LastSeenAt:      finding.LastSeenAt,
		OccurrenceCount: finding.OccurrenceCount,
		Remediable:      finding.Remediable,
		Acknowledged:    finding.Acknowledged,
		Resolved:        finding.Resolved,
		ResolvedAt:      finding.ResolvedAt,
		ResolvedBy:      finding.ResolvedBy,
		FalsePositive:   finding.FalsePositive,
	}

	_, err = s.db.NamedExecContext(ctx, upsertSQL, row)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "upserting finding")
	}
	return nil
}

const listOpenSQL = `
SELECT system_id, rule_id, component, resource_path, severity, title, description,
       evidence, detected_at, last_seen_at, occurrence_count, remediable,
       acknowledged, resolved, resolved_at, resolved_by, false_positive
FROM findings
WHERE system_id = $1 AND resolved = false`

// ListOpen returns unresolved findings for systemID, applying
// category/severity filters in Go rather than SQL to keep the query
// shape stable across the small number of optional filter dimensions.
func (s *Store) ListOpen(ctx context.Context, systemID string, filter findingstore.Filter) ([]*diagtypes.Finding, error) {
	var rows []findingRow
	if err := s.db.SelectContext(ctx, &rows, listOpenSQL, systemID); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "listing open findings")
	}

	var out []*diagtypes.Finding
	for _, r := range rows {
		if filter.Category != "" && r.Component != filter.Category {
			continue
		}
		if filter.Severity != "" && diagtypes.Severity(r.Severity) != filter.Severity {
			continue
		}
		f, err := rowToFinding(r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

const getSQL = `
SELECT system_id, rule_id, component, resource_path, severity, title, description,
       evidence, detected_at, last_seen_at, occurrence_count, remediable,
       acknowledged, resolved, resolved_at, resolved_by, false_positive
FROM findings
WHERE system_id = $1 AND rule_id = $2 AND component = $3 AND resource_path = $4`

// Get returns a single finding by identity key.
func (s *Store) Get(ctx context.Context, key diagtypes.FindingKey) (*diagtypes.Finding, bool, error) {
	var row findingRow
	err := s.db.GetContext(ctx, &row, getSQL, key.SystemID, key.RuleID, key.Component, key.ResourcePath)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "getting finding")
	}
	f, err := rowToFinding(row)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// MarkResolved closes a finding.
func (s *Store) MarkResolved(ctx context.Context, key diagtypes.FindingKey, by string) error {
	const q = `UPDATE findings SET resolved = true, resolved_at = $1, resolved_by = $2
	           WHERE system_id = $3 AND rule_id = $4 AND component = $5 AND resource_path = $6`
	return s.exec(ctx, q, time.Now(), by, key.SystemID, key.RuleID, key.Component, key.ResourcePath)
}

// Acknowledge flags a finding as seen without closing it.
func (s *Store) Acknowledge(ctx context.Context, key diagtypes.FindingKey, by string) error {
	const q = `UPDATE findings SET acknowledged = true
	           WHERE system_id = $1 AND rule_id = $2 AND component = $3 AND resource_path = $4`
	return s.exec(ctx, q, key.SystemID, key.RuleID, key.Component, key.ResourcePath)
}

// MarkFalsePositive flags a finding false-positive and clears its
// remediable flag in the same statement.
func (s *Store) MarkFalsePositive(ctx context.Context, key diagtypes.FindingKey, by string) error {
	const q = `UPDATE findings SET false_positive = true, remediable = false, resolved_by = $1
	           WHERE system_id = $2 AND rule_id = $3 AND component = $4 AND resource_path = $5`
	return s.exec(ctx, q, by, key.SystemID, key.RuleID, key.Component, key.ResourcePath)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "updating finding")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "checking rows affected")
	}
	if n == 0 {
		return kerrors.New(kerrors.ErrorTypeInvalidInput, "finding not found")
	}
	return nil
}

func rowToFinding(r findingRow) (*diagtypes.Finding, error) {
	var evidence diagtypes.Evidence
	if len(r.Evidence) > 0 {
		if err := json.Unmarshal(r.Evidence, &evidence); err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrorTypeSnapshotCorrupt, "decoding finding evidence")
		}
	}
	return &diagtypes.Finding{
		Key: diagtypes.FindingKey{
			SystemID:     r.SystemID,
			RuleID:       r.RuleID,
			Component:    r.Component,
			ResourcePath: r.ResourcePath,
		},
		Severity:        diagtypes.Severity(r.Severity),
		Title:           r.Title,
		Description:     r.Description,
		Evidence:        evidence,
		DetectedAt:      r.DetectedAt,
		LastSeenAt:      r.LastSeenAt,
		OccurrenceCount: r.OccurrenceCount,
		Remediable:      r.Remediable,
		Acknowledged:    r.Acknowledged,
		Resolved:        r.Resolved,
		ResolvedAt:      r.ResolvedAt,
		ResolvedBy:      r.ResolvedBy,
		FalsePositive:   r.FalsePositive,
	}, nil
}
