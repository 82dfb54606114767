// Package scanner implements the Scanner Framework: a
// per-category worker that extracts data through a Connector and
// drives Rule Engine evaluation over it.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
	"github.com/hashicorp/go-multierror"
)

// defaultBatchSize bounds memory when a scanner's extraction set is
// large.
const defaultBatchSize = 100

// Record is one extracted resource: its identity within the scanner's
// component, plus its field data as resolved Values.
type Record struct {
	ResourcePath string
	Data         map[string]value.Value
}

// ScanError is one rule's evaluation failure. Retryable marks
// timeout/reset-shaped errors the Orchestrator may choose to retry on
// a later scan. Misconfigured marks a rule the
// scanner disabled for the rest of this scan (bad regex, unknown
// operator); the Orchestrator announces those on the Event Bus.
type ScanError struct {
	RuleID        string
	Message       string
	Retryable     bool
	Misconfigured bool
}

// ScanResult is what Scan returns. A scanner's own failure never
// poisons the Orchestrator: it always returns a ScanResult, falling
// back to zero findings plus at least one ScanError.
type ScanResult struct {
	ScannerID string
	Findings  []*diagtypes.Finding
	Errors    []ScanError

	// RuleErrors folds every rule-misconfiguration error this scan
	// produced into one error, while Errors above still carries each
	// individual (ruleID, message) pair for the Orchestrator to log.
	// nil when no rule failed to evaluate.
	RuleErrors error
}

// ScanContext carries the per-invocation inputs a Scanner needs beyond
// its own static configuration.
type ScanContext struct {
	SystemID         string
	SystemVersion    string
	Rules            []*diagtypes.DiagnosticRule
	PreviousFindings map[diagtypes.FindingKey]*diagtypes.Finding
	Now              time.Time
}

// Scanner is the public contract every category worker implements.
type Scanner interface {
	ID() string
	Name() string
	Category() string
	Version() string
	SupportedRules() []string // empty means "no whitelist, all rules of my category apply"
	SupportedVersions() []string
	Initialize(ctx context.Context) error
	Scan(ctx context.Context, sctx ScanContext) ScanResult
	Cleanup(ctx context.Context) error
}

// Extractor pulls a scanner's category-specific data out of a
// Connector. A nil, empty slice return with a nil error means "no
// data available"; whether that is fatal is decided at the Base level
// by checking len(records).
type Extractor func(ctx context.Context) ([]Record, error)

// Base implements the Scanner contract's driving logic (extraction,
// rule filtering, Rule Engine evaluation, re-detection coalescing,
// per-rule error collection) so that a concrete scanner only has to
// supply its identity and an Extractor.
type Base struct {
	id                string
	name              string
	category          string
	version           string
	supportedRules    []string
	supportedVersions []string
	batchSize         int
	extract           Extractor
	engine            *ruleengine.Engine

	// registered scanners are shared across concurrent scans, so lazy
	// initialization must be race-free.
	initOnce sync.Once
	initErr  error
}

// NewBase constructs a Base scanner. batchSize <= 0 uses
// defaultBatchSize.
func NewBase(id, name, category, version string, supportedVersions []string, extract Extractor, engine *ruleengine.Engine, batchSize int) *Base {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Base{
		id:                id,
		name:              name,
		category:          category,
		version:           version,
		supportedVersions: supportedVersions,
		extract:           extract,
		engine:            engine,
		batchSize:         batchSize,
	}
}

func (b *Base) ID() string                  { return b.id }
func (b *Base) Name() string                { return b.name }
func (b *Base) Category() string            { return b.category }
func (b *Base) Version() string             { return b.version }
func (b *Base) SupportedRules() []string    { return b.supportedRules }
func (b *Base) SupportedVersions() []string { return b.supportedVersions }

// WithSupportedRules restricts this scanner to a whitelist of rule
// ids; an empty whitelist (the default) accepts every rule of its
// category.
func (b *Base) WithSupportedRules(ids []string) *Base {
	b.supportedRules = ids
	return b
}

// Initialize is idempotent: the first call wins and later calls return
// its result.
func (b *Base) Initialize(ctx context.Context) error {
	b.initOnce.Do(func() {
		b.initErr = nil
	})
	return b.initErr
}

func (b *Base) Cleanup(ctx context.Context) error {
	return nil
}

// Scan drives one extraction-and-evaluation pass: lazy init, extract,
// filter rules, evaluate per record, coalesce re-detections, collect
// per-rule errors.
func (b *Base) Scan(ctx context.Context, sctx ScanContext) ScanResult {
	result := ScanResult{ScannerID: b.id}

	if err := b.Initialize(ctx); err != nil {
		result.Errors = append(result.Errors, ScanError{Message: err.Error(), Retryable: false})
		return result
	}

	records, err := b.extract(ctx)
	if err != nil && len(records) == 0 {
		// extraction errors are fatal only if no data could be produced
		// at all.
		result.Errors = append(result.Errors, ScanError{Message: err.Error(), Retryable: isRetryableExtraction(err)})
		return result
	}
	if err != nil {
		// partial data: degrade, but keep going with what we have.
		result.Errors = append(result.Errors, ScanError{Message: err.Error(), Retryable: isRetryableExtraction(err)})
	}

	applicable := b.applicableRules(sctx)
	var ruleErrs *multierror.Error
	disabled := map[string]bool{}

	for start := 0; start < len(records); start += b.batchSize {
		end := start + b.batchSize
		if end > len(records) {
			end = len(records)
		}
		cancelled := b.scanBatch(ctx, records[start:end], sctx, applicable, disabled, &result, &ruleErrs)

		if cancelled || ctx.Err() != nil {
			result.Errors = append(result.Errors, ScanError{Message: ctx.Err().Error(), Retryable: false})
			result.RuleErrors = ruleErrs.ErrorOrNil()
			return result
		}
	}

	result.RuleErrors = ruleErrs.ErrorOrNil()
	return result
}

// scanBatch evaluates every still-enabled rule against each record in
// batch, checking cancellation between rule evaluations. A
// rule that turns out to be misconfigured is disabled for the rest of
// the scan rather than erroring once per record.
func (b *Base) scanBatch(ctx context.Context, batch []Record, sctx ScanContext, rules []*diagtypes.DiagnosticRule, disabled map[string]bool, result *ScanResult, ruleErrs **multierror.Error) bool {
	for _, rec := range batch {
		for _, rule := range rules {
			if ctx.Err() != nil {
				return true
			}
			if disabled[rule.ID] {
				continue
			}
			finding, err := b.engine.Evaluate(rule, rec.Data, ruleengine.EvalContext{
				SystemID:     sctx.SystemID,
				Component:    b.category,
				ResourcePath: rec.ResourcePath,
			})
			if err != nil {
				disabled[rule.ID] = true
				result.Errors = append(result.Errors, ScanError{RuleID: rule.ID, Message: err.Error(), Misconfigured: true})
				*ruleErrs = multierror.Append(*ruleErrs, fmt.Errorf("rule %s on %s: %w", rule.ID, rec.ResourcePath, err))
				continue
			}
			if finding == nil {
				continue
			}
			b.coalesce(finding, sctx)
			result.Findings = append(result.Findings, finding)
		}
	}
	return false
}

// coalesce merges repeated detections: a re-detection of an open
// finding inherits detectedAt and bumps occurrenceCount instead of
// starting a fresh lifetime.
func (b *Base) coalesce(finding *diagtypes.Finding, sctx ScanContext) {
	prev, ok := sctx.PreviousFindings[finding.Key]
	if !ok || !prev.IsOpen() {
		finding.DetectedAt = sctx.Now
		finding.LastSeenAt = sctx.Now
		finding.OccurrenceCount = 1
		return
	}
	finding.DetectedAt = prev.DetectedAt
	finding.OccurrenceCount = prev.OccurrenceCount + 1
	finding.LastSeenAt = sctx.Now
}

// applicableRules filters the dispatched rules: respect the
// scanner's own rule whitelist (if any), and the rule's
// supported-version glob against ctx.systemVersion.
func (b *Base) applicableRules(sctx ScanContext) []*diagtypes.DiagnosticRule {
	whitelist := map[string]bool{}
	for _, id := range b.supportedRules {
		whitelist[id] = true
	}

	var out []*diagtypes.DiagnosticRule
	for _, rule := range sctx.Rules {
		if !rule.Enabled {
			continue
		}
		if rule.Category != "" && rule.Category != b.category {
			continue
		}
		if len(whitelist) > 0 && !whitelist[rule.ID] {
			continue
		}
		if !rule.AppliesToVersion(sctx.SystemVersion) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// isRetryableExtraction flags timeout/reset-shaped Connector errors as
// retryable.
func isRetryableExtraction(err error) bool {
	return connector.IsTransient(err)
}
