package ruleengine

import (
	"fmt"
	"regexp"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
)

// evalCondition resolves cond.FieldPath against data and applies
// cond.Operator. It returns (matched, actualValue, actualResolved, err).
// err is non-nil only for RULE_MISCONFIGURED conditions (bad regex);
// every other negative outcome is a plain non-match.
func (e *Engine) evalCondition(ruleID string, cond *diagtypes.RuleCondition, data map[string]value.Value) (bool, value.Value, bool, error) {
	resolved, found := value.Resolve(data, cond.FieldPath)

	switch cond.Operator {
	case diagtypes.OpExists:
		return found, resolved, found, nil
	case diagtypes.OpNotExists:
		return !found, resolved, found, nil
	}

	if !found {
		// every remaining operator requires a resolved value; an
		// absent field simply fails to match.
		return false, value.Null(), false, nil
	}

	switch cond.Operator {
	case diagtypes.OpEq:
		return resolved.Equal(value.FromNative(cond.Value)), resolved, true, nil
	case diagtypes.OpNe:
		return !resolved.Equal(value.FromNative(cond.Value)), resolved, true, nil
	case diagtypes.OpGt, diagtypes.OpLt:
		return e.evalNumericComparison(ruleID, cond, resolved)
	case diagtypes.OpContains:
		return resolved.Contains(value.FromNative(cond.Value)), resolved, true, nil
	case diagtypes.OpRegex:
		return e.evalRegex(ruleID, cond, resolved)
	default:
		return false, resolved, true, kerrors.Newf(kerrors.ErrorTypeRuleMisconfigured,
			"rule %s: unknown operator %q", ruleID, cond.Operator)
	}
}

// evalNumericComparison implements gt/lt. Non-numeric operands are
// logged as a warning and treated as a non-match, never an error or a
// finding.
func (e *Engine) evalNumericComparison(ruleID string, cond *diagtypes.RuleCondition, actual value.Value) (bool, value.Value, bool, error) {
	actualNum, ok := actual.Float64()
	if !ok {
		e.log.Warnf("rule %s: field %s is not numeric, skipping %s comparison", ruleID, cond.FieldPath, cond.Operator)
		return false, actual, true, nil
	}

	expected := value.FromNative(cond.Value)
	expectedNum, ok := expected.Float64()
	if !ok {
		e.log.Warnf("rule %s: condition value for %s is not numeric, skipping %s comparison", ruleID, cond.FieldPath, cond.Operator)
		return false, actual, true, nil
	}

	if cond.Operator == diagtypes.OpGt {
		return actualNum > expectedNum, actual, true, nil
	}
	return actualNum < expectedNum, actual, true, nil
}

// evalRegex implements the regex operator with per-(rule,field,pattern)
// compile caching. Anchored matching is off by default, which
// regexp.MatchString already provides (no implicit ^/$).
func (e *Engine) evalRegex(ruleID string, cond *diagtypes.RuleCondition, actual value.Value) (bool, value.Value, bool, error) {
	pattern, ok := value.FromNative(cond.Value).StringValue()
	if !ok {
		return false, actual, true, kerrors.Newf(kerrors.ErrorTypeRuleMisconfigured,
			"rule %s: regex condition on %s has a non-string pattern", ruleID, cond.FieldPath)
	}

	re, err := e.compiledRegex(ruleID, cond.FieldPath, pattern)
	if err != nil {
		return false, actual, true, kerrors.Wrapf(err, kerrors.ErrorTypeRuleMisconfigured,
			"rule %s: invalid regex on %s", ruleID, cond.FieldPath)
	}

	s, ok := actual.StringValue()
	if !ok {
		e.log.Warnf("rule %s: field %s is not a string, skipping regex match", ruleID, cond.FieldPath)
		return false, actual, true, nil
	}
	return re.MatchString(s), actual, true, nil
}

func (e *Engine) compiledRegex(ruleID, fieldPath, pattern string) (*regexp.Regexp, error) {
	cacheKey := fmt.Sprintf("%s\x00%s\x00%s", ruleID, fieldPath, pattern)

	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.regex[cacheKey]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regex[cacheKey] = re
	return re, nil
}
