// Package registry implements the Rule/Scanner Registry:
// the built-in and plugin catalog that the Orchestrator resolves
// rules and scanners through.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scanner"
)

// Registry is the built-in and plugin catalog of DiagnosticRules and
// Scanners. The zero value is not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	rules    map[string]*diagtypes.DiagnosticRule
	scanners map[string]scanner.Scanner
	actions  map[string]*diagtypes.RemediationAction
}

// New returns an empty Registry; built-ins are registered into it by
// the Kernel Facade during init.
func New() *Registry {
	return &Registry{
		rules:    map[string]*diagtypes.DiagnosticRule{},
		scanners: map[string]scanner.Scanner{},
		actions:  map[string]*diagtypes.RemediationAction{},
	}
}

// RegisterRule adds or upgrades a DiagnosticRule. Registration is
// rejected on id conflict unless the incoming rule carries a strictly
// higher semantic version than the one already registered; this is
// how a plugin supersedes a built-in.
func (r *Registry) RegisterRule(rule *diagtypes.DiagnosticRule) error {
	if err := rule.Validate(); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeInvalidInput, "registering rule")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if ok && compareSemver(rule.Version, existing.Version) <= 0 {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput,
			"rule %s: version %s does not supersede registered version %s",
			rule.ID, rule.Version, existing.Version)
	}
	r.rules[rule.ID] = rule
	return nil
}

// RegisterScanner adds or upgrades a Scanner, under the same
// id-conflict/version-supersedes rule as RegisterRule.
func (r *Registry) RegisterScanner(s scanner.Scanner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.scanners[s.ID()]
	if ok && compareSemver(s.Version(), existing.Version()) <= 0 {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput,
			"scanner %s: version %s does not supersede registered version %s",
			s.ID(), s.Version(), existing.Version())
	}
	r.scanners[s.ID()] = s
	return nil
}

// RegisterAction catalogs a RemediationAction so rules can reference
// it by id (diagtypes.RemediationActionRef) and the auto-remediation
// path can resolve the reference back to the declared operation.
// Re-registration under an existing id replaces the catalog entry,
// since actions carry no version of their own.
func (r *Registry) RegisterAction(action *diagtypes.RemediationAction) error {
	if err := action.Validate(); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeInvalidInput, "registering action")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.ID] = action
	return nil
}

// Action looks up a cataloged RemediationAction by id.
func (r *Registry) Action(id string) (*diagtypes.RemediationAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	return a, ok
}

// Rule looks up a single registered rule by id.
func (r *Registry) Rule(id string) (*diagtypes.DiagnosticRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// Scanner looks up a single registered scanner by id.
func (r *Registry) Scanner(id string) (scanner.Scanner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[id]
	return s, ok
}

// ResolveRules selects the rules a scan will run: the union of explicit
// ruleIDs and rules whose category is in categories, intersected with
// enabled and version-compatible (against systemVersion) rules.
// Results are sorted by id for deterministic dispatch ordering.
func (r *Registry) ResolveRules(ruleIDs []string, categories []string, systemVersion string) []*diagtypes.DiagnosticRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wantIDs := map[string]bool{}
	for _, id := range ruleIDs {
		wantIDs[id] = true
	}
	wantCategories := map[string]bool{}
	for _, c := range categories {
		wantCategories[c] = true
	}

	var out []*diagtypes.DiagnosticRule
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if len(wantIDs) == 0 && len(wantCategories) == 0 {
			// no filter at all means "every enabled, version-compatible rule".
		} else if !wantIDs[rule.ID] && !wantCategories[rule.Category] {
			continue
		}
		if !rule.AppliesToVersion(systemVersion) {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScheduledRules returns the enabled rules that declare a recurring
// schedule, sorted by id. The scan scheduler polls this to decide what
// to trigger.
func (r *Registry) ScheduledRules() []*diagtypes.DiagnosticRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*diagtypes.DiagnosticRule
	for _, rule := range r.rules {
		if rule.Enabled && rule.Schedule != "" {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScannersForCategories returns the scanners whose category appears
// in the given set; several scanners may share a category, and each
// one is returned. Scanner ids are sorted so same-key ties resolve
// deterministically.
func (r *Registry) ScannersForCategories(categories []string) []scanner.Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := map[string]bool{}
	for _, c := range categories {
		want[c] = true
	}

	var out []scanner.Scanner
	for _, s := range r.scanners {
		if want[s.Category()] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// compareSemver orders two "major.minor.patch"-shaped version strings
// numerically component-by-component; a missing component compares as
// lower than a present one, and when either component is non-numeric
// the two are compared lexicographically (so "1.0.x" sorts above
// "1.0.1"), which keeps callers from panicking on a malformed version
// string.
func compareSemver(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		var aok, bok bool
		if i < len(as) {
			av, aok = parseUint(as[i])
		}
		if i < len(bs) {
			bv, bok = parseUint(bs[i])
		}
		if aok && bok {
			if av != bv {
				return av - bv
			}
			continue
		}
		// non-numeric component: compare what we have lexicographically.
		var ac, bc string
		if i < len(as) {
			ac = as[i]
		}
		if i < len(bs) {
			bc = bs[i]
		}
		if ac != bc {
			return strings.Compare(ac, bc)
		}
	}
	return 0
}

func parseUint(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
