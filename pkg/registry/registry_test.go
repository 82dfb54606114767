package registry

import (
	"context"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scanner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func rule(id, version, category string) *diagtypes.DiagnosticRule {
	return &diagtypes.DiagnosticRule{
		ID:                id,
		Version:           version,
		Category:          category,
		Enabled:           true,
		DefaultSeverity:   diagtypes.SeverityMedium,
		SupportedVersions: []string{"*"},
		Conditions: []diagtypes.RuleCondition{
			{FieldPath: "x", Operator: diagtypes.OpExists},
		},
	}
}

type fakeScanner struct {
	id, category, version string
}

func (f fakeScanner) ID() string                           { return f.id }
func (f fakeScanner) Name() string                         { return f.id }
func (f fakeScanner) Category() string                     { return f.category }
func (f fakeScanner) Version() string                      { return f.version }
func (f fakeScanner) SupportedRules() []string             { return nil }
func (f fakeScanner) SupportedVersions() []string          { return []string{"*"} }
func (f fakeScanner) Initialize(ctx context.Context) error { return nil }
func (f fakeScanner) Scan(ctx context.Context, sctx scanner.ScanContext) scanner.ScanResult {
	return scanner.ScanResult{ScannerID: f.id}
}
func (f fakeScanner) Cleanup(ctx context.Context) error { return nil }

var _ = Describe("Registry", func() {
	var r *Registry

	BeforeEach(func() {
		r = New()
	})

	// BR-REG-001: registration is rejected on id conflict unless the
	// newcomer carries a strictly higher semantic version.
	Context("BR-REG-001: Rule Registration", func() {
		It("rejects an id conflict without a higher version", func() {
			Expect(r.RegisterRule(rule("r1", "1.0.0", "performance"))).To(Succeed())

			err := r.RegisterRule(rule("r1", "1.0.0", "performance"))
			Expect(err).To(HaveOccurred(),
				"BR-REG-001: same version must not supersede")
			Expect(kerrors.IsType(err, kerrors.ErrorTypeInvalidInput)).To(BeTrue())

			Expect(r.RegisterRule(rule("r1", "0.9.0", "performance"))).NotTo(Succeed(),
				"BR-REG-001: lower version must not supersede")
		})

		It("accepts a strictly higher version", func() {
			Expect(r.RegisterRule(rule("r1", "1.0.0", "performance"))).To(Succeed())
			Expect(r.RegisterRule(rule("r1", "1.1.0", "performance"))).To(Succeed())

			got, ok := r.Rule("r1")
			Expect(ok).To(BeTrue())
			Expect(got.Version).To(Equal("1.1.0"),
				"BR-REG-001: the superseding rule must win the catalog slot")
		})

		It("rejects a rule that fails validation", func() {
			Expect(r.RegisterRule(rule("", "1.0.0", "performance"))).NotTo(Succeed())
		})
	})

	// BR-REG-002: scanner registration follows the same supersede rule.
	Context("BR-REG-002: Scanner Registration", func() {
		It("applies the version-supersede rule to scanners", func() {
			Expect(r.RegisterScanner(fakeScanner{id: "s1", category: "performance", version: "1.0.0"})).To(Succeed())
			Expect(r.RegisterScanner(fakeScanner{id: "s1", category: "performance", version: "1.0.0"})).NotTo(Succeed())

			Expect(r.RegisterScanner(fakeScanner{id: "s1", category: "performance", version: "2.0.0"})).To(Succeed())
			got, ok := r.Scanner("s1")
			Expect(ok).To(BeTrue())
			Expect(got.Version()).To(Equal("2.0.0"))
		})
	})

	// BR-REG-003: rule resolution is the union of explicit ids and
	// category membership, intersected with enabled and
	// version-compatible rules.
	Context("BR-REG-003: Rule Resolution", func() {
		It("unions explicit ids and categories", func() {
			Expect(r.RegisterRule(rule("perf-1", "1.0.0", "performance"))).To(Succeed())
			Expect(r.RegisterRule(rule("sec-1", "1.0.0", "security"))).To(Succeed())
			Expect(r.RegisterRule(rule("cfg-1", "1.0.0", "configuration"))).To(Succeed())

			resolved := r.ResolveRules([]string{"cfg-1"}, []string{"performance"}, "11.0")
			ids := map[string]bool{}
			for _, rr := range resolved {
				ids[rr.ID] = true
			}
			Expect(ids).To(HaveKey("cfg-1"))
			Expect(ids).To(HaveKey("perf-1"))
			Expect(ids).NotTo(HaveKey("sec-1"))
		})

		It("excludes disabled and version-incompatible rules", func() {
			disabled := rule("perf-1", "1.0.0", "performance")
			disabled.Enabled = false
			Expect(r.RegisterRule(disabled)).To(Succeed())

			incompatible := rule("perf-2", "1.0.0", "performance")
			incompatible.SupportedVersions = []string{"9.*"}
			Expect(r.RegisterRule(incompatible)).To(Succeed())

			Expect(r.ResolveRules(nil, []string{"performance"}, "11.0")).To(BeEmpty(),
				"BR-REG-003: disabled rules never produce findings")
		})

		It("returns every compatible rule when no filter is given", func() {
			Expect(r.RegisterRule(rule("perf-1", "1.0.0", "performance"))).To(Succeed())
			Expect(r.RegisterRule(rule("sec-1", "1.0.0", "security"))).To(Succeed())

			Expect(r.ResolveRules(nil, nil, "11.0")).To(HaveLen(2))
		})
	})

	// BR-REG-004: scanners resolve by category in deterministic id
	// order so same-key tie-breaks are stable across runs.
	Context("BR-REG-004: Scanner Resolution", func() {
		It("returns category matches sorted by id", func() {
			Expect(r.RegisterScanner(fakeScanner{id: "zzz", category: "performance", version: "1.0.0"})).To(Succeed())
			Expect(r.RegisterScanner(fakeScanner{id: "aaa", category: "performance", version: "1.0.0"})).To(Succeed())
			Expect(r.RegisterScanner(fakeScanner{id: "other", category: "security", version: "1.0.0"})).To(Succeed())

			out := r.ScannersForCategories([]string{"performance"})
			Expect(out).To(HaveLen(2))
			Expect(out[0].ID()).To(Equal("aaa"))
			Expect(out[1].ID()).To(Equal("zzz"))
		})
	})

	// BR-REG-005: the action catalog resolves rule action references
	// for the auto-remediation path.
	Context("BR-REG-005: Action Catalog", func() {
		It("catalogs and resolves actions by id", func() {
			action := &diagtypes.RemediationAction{
				ID:               "lock-account",
				Operation:        "lock-account",
				Risk:             diagtypes.RiskHigh,
				RequiresApproval: true,
			}
			Expect(r.RegisterAction(action)).To(Succeed())

			got, ok := r.Action("lock-account")
			Expect(ok).To(BeTrue())
			Expect(got.Operation).To(Equal("lock-account"))

			_, ok = r.Action("does-not-exist")
			Expect(ok).To(BeFalse())
		})

		It("rejects an invalid action", func() {
			err := r.RegisterAction(&diagtypes.RemediationAction{ID: "risky", Risk: diagtypes.RiskHigh})
			Expect(err).To(HaveOccurred(),
				"high risk without requiresApproval is invalid")
		})
	})

	Describe("scheduled rules", func() {
		It("returns only enabled rules with a declared schedule, by id", func() {
			scheduled := rule("b-scheduled", "1.0.0", "performance")
			scheduled.Schedule = "hourly"
			Expect(r.RegisterRule(scheduled)).To(Succeed())

			alsoScheduled := rule("a-scheduled", "1.0.0", "security")
			alsoScheduled.Schedule = "30m"
			Expect(r.RegisterRule(alsoScheduled)).To(Succeed())

			unscheduled := rule("c-unscheduled", "1.0.0", "performance")
			Expect(r.RegisterRule(unscheduled)).To(Succeed())

			disabled := rule("d-disabled", "1.0.0", "performance")
			disabled.Schedule = "daily"
			disabled.Enabled = false
			Expect(r.RegisterRule(disabled)).To(Succeed())

			out := r.ScheduledRules()
			Expect(out).To(HaveLen(2))
			Expect(out[0].ID).To(Equal("a-scheduled"))
			Expect(out[1].ID).To(Equal("b-scheduled"))
		})
	})

	Describe("semantic version ordering", func() {
		It("orders dotted versions numerically component by component", func() {
			Expect(compareSemver("1.1.0", "1.0.0")).To(BeNumerically(">", 0))
			Expect(compareSemver("1.0.0", "1.0.0")).To(BeZero())
			Expect(compareSemver("1.0.0", "1.1.0")).To(BeNumerically("<", 0))
			Expect(compareSemver("2.0.0", "1.9.9")).To(BeNumerically(">", 0))
			Expect(compareSemver("1.0.10", "1.0.9")).To(BeNumerically(">", 0))
		})
	})
})
