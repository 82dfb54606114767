package diagtypes

import "fmt"

// Severity is a finding's or rule's default severity level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// rank orders severities for the Scan Orchestrator's tie-break rule.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// GreaterThan reports whether s outranks other.
func (s Severity) GreaterThan(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// Operator is a RuleCondition's comparison.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpContains  Operator = "contains"
	OpRegex     Operator = "regex"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not-exists"
)

// RuleCondition is one AND-term of a DiagnosticRule.
type RuleCondition struct {
	FieldPath string
	Operator  Operator
	Value     interface{}
	Threshold *float64
	Unit      string

	// SeverityOverride lets this specific condition's match escalate
	// or de-escalate the finding's severity instead of inheriting the
	// rule's default severity.
	SeverityOverride *Severity
}

// RemediationActionRef links a rule to the action(s) it may trigger.
type RemediationActionRef struct {
	ActionID string
}

// DiagnosticRule is a declarative predicate plus metadata.
type DiagnosticRule struct {
	ID                string
	Version           string
	Name              string
	Description       string
	Category          string
	DefaultSeverity   Severity
	Enabled           bool
	SupportedVersions []string // glob patterns, e.g. "10.*", "*"
	Tags              []string

	// Schedule optionally names a recurring trigger for the rule: one
	// of the symbolic intervals hourly/daily/weekly or a Go duration
	// string such as "30m"; cron expressions are not accepted.
	// pkg/scheduler acts on it by creating scans with TriggerScheduled.
	Schedule string

	Conditions    []RuleCondition
	AutoRemediate bool
	Actions       []RemediationActionRef
}

// Validate enforces the rule invariants: supported-versions is
// non-empty, condition list is non-empty.
func (r *DiagnosticRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("invalid_input: rule id is required")
	}
	if len(r.SupportedVersions) == 0 {
		return fmt.Errorf("invalid_input: rule %s must declare supported-versions", r.ID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("invalid_input: rule %s must declare at least one condition", r.ID)
	}
	return nil
}

// AppliesToVersion reports whether the rule's supported-version
// globs match systemVersion: "*" matches any, "10.*" matches major
// lines.
func (r *DiagnosticRule) AppliesToVersion(systemVersion string) bool {
	for _, pattern := range r.SupportedVersions {
		if matchVersionGlob(pattern, systemVersion) {
			return true
		}
	}
	return false
}

// matchVersionGlob implements the restricted glob grammar version
// patterns use: "*" matches any, "10.*" (prefix before the star)
// matches major lines, and an exact string matches itself.
func matchVersionGlob(pattern, version string) bool {
	if pattern == "*" {
		return true
	}
	if idx := indexOfStar(pattern); idx >= 0 {
		prefix := pattern[:idx]
		return len(version) >= len(prefix) && version[:len(prefix)] == prefix
	}
	return pattern == version
}

func indexOfStar(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			return i
		}
	}
	return -1
}
