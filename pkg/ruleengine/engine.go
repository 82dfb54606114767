// Package ruleengine implements the Rule Engine: a pure,
// CPU-bounded evaluator that resolves a DiagnosticRule's conditions
// against extracted data and, on a positive match, produces a Finding.
package ruleengine

import (
	"regexp"
	"sync"

	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
	"github.com/sirupsen/logrus"
)

// EvalContext carries the per-evaluation metadata the engine needs but
// that isn't part of the rule or the extracted data itself.
type EvalContext struct {
	SystemID     string
	Component    string
	ResourcePath string
}

// Engine evaluates DiagnosticRules against Value-typed data. It caches
// compiled regexes per (rule id, field path, pattern) so repeated
// evaluation of the same rule across many resources compiles the
// pattern exactly once.
type Engine struct {
	log   logrus.FieldLogger
	mu    sync.Mutex
	regex map[string]*regexp.Regexp
}

// New constructs a Rule Engine. log may be nil, in which case a
// logger that discards output is used.
func New(log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.Out = discard{}
		log = l
	}
	return &Engine{log: log, regex: map[string]*regexp.Regexp{}}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Evaluate implements the Rule Engine contract: evaluate(rule, data,
// ctx) -> finding?. It returns (nil, nil) when the rule does not
// match, and a non-nil error of kind ErrorTypeRuleMisconfigured when a
// condition can never be evaluated (e.g. a bad regex); the caller
// (Scanner Framework) is responsible for disabling the rule for the
// remainder of the scan and publishing the corresponding event.
func (e *Engine) Evaluate(rule *diagtypes.DiagnosticRule, data map[string]value.Value, ctx EvalContext) (*diagtypes.Finding, error) {
	var matched *diagtypes.RuleCondition
	var actual value.Value
	var hasActual bool

	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		ok, actualVal, resolved, err := e.evalCondition(rule.ID, cond, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil // AND short-circuit: this rule does not match
		}
		matched = cond
		actual = actualVal
		hasActual = resolved
	}

	if matched == nil {
		// No conditions to evaluate; DiagnosticRule.Validate() already
		// forbids this, but Evaluate stays defensive against a rule
		// constructed without going through Validate.
		return nil, nil
	}

	severity := rule.DefaultSeverity
	if matched.SeverityOverride != nil {
		severity = *matched.SeverityOverride
	}

	var actualEvidence interface{}
	if hasActual {
		actualEvidence = actual.ToNative()
	}

	// numeric threshold matches also carry the distance to the
	// expected value.
	var difference interface{}
	if a, aok := actual.Float64(); aok {
		if x, xok := value.FromNative(matched.Value).Float64(); xok {
			difference = a - x
		}
	}

	finding := &diagtypes.Finding{
		Key: diagtypes.FindingKey{
			SystemID:     ctx.SystemID,
			RuleID:       rule.ID,
			Component:    ctx.Component,
			ResourcePath: ctx.ResourcePath,
		},
		Severity:    severity,
		Title:       rule.Name,
		Description: rule.Description,
		Evidence: diagtypes.Evidence{
			Actual:     actualEvidence,
			Expected:   matched.Value,
			Difference: difference,
		},
		Remediable: len(rule.Actions) > 0,
		Actions:    rule.Actions,
	}
	return finding, nil
}

// EvalConditions AND-combines conds against data, the same way
// Evaluate combines a rule's own conditions. The Remediation Engine
// reuses this to check an action's pre/post conditions, which share
// RuleCondition's shape via GuardExpression.
func (e *Engine) EvalConditions(conds []diagtypes.RuleCondition, data map[string]value.Value) (bool, error) {
	for i := range conds {
		ok, _, _, err := e.evalCondition("guard", &conds[i], data)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
