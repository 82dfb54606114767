// Package builtin carries the kernel's built-in diagnostic catalog:
// the rules, scanners, and remediation actions registered during
// Facade init. Plugins extend the same Registry through
// the same ports; nothing here is special beyond being first.
package builtin

import "github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"

// Diagnostic categories covered by the built-in scanners.
const (
	CategoryPerformance   = "performance"
	CategorySecurity      = "security"
	CategoryConfiguration = "configuration"
	CategoryIntegrity     = "integrity"
	CategoryConflicts     = "conflicts"
)

// Rules returns the built-in DiagnosticRules. Each is registered at
// version 1.0.0 so a plugin can supersede any of them by shipping a
// strictly higher version under the same id.
func Rules() []*diagtypes.DiagnosticRule {
	return []*diagtypes.DiagnosticRule{
		{
			ID:                "perf-cpu-usage",
			Version:           "1.0.0",
			Name:              "High CPU usage",
			Description:       "Sustained CPU saturation on an application node.",
			Category:          CategoryPerformance,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"performance", "capacity"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "performance.cpu_percent", Operator: diagtypes.OpGt, Value: 80},
			},
		},
		{
			ID:                "perf-memory-usage",
			Version:           "1.0.0",
			Name:              "High memory usage",
			Description:       "Node memory utilization leaves no headroom for request spikes.",
			Category:          CategoryPerformance,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"performance", "capacity"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "performance.memory_percent", Operator: diagtypes.OpGt, Value: 90},
			},
		},
		{
			ID:                "perf-db-pool-exhaustion",
			Version:           "1.0.0",
			Name:              "Database connection pool near exhaustion",
			Description:       "Active connections are close to the configured pool ceiling.",
			Category:          CategoryPerformance,
			DefaultSeverity:   diagtypes.SeverityCritical,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"performance", "database"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "performance.pool_used_percent", Operator: diagtypes.OpGt, Value: 85},
			},
			AutoRemediate: true,
			Actions:       []diagtypes.RemediationActionRef{{ActionID: "increase-pool-size"}},
		},
		{
			ID:                "perf-cache-hit-ratio",
			Version:           "1.0.0",
			Name:              "Low cache hit ratio",
			Description:       "The object cache is serving too few requests from memory.",
			Category:          CategoryPerformance,
			DefaultSeverity:   diagtypes.SeverityMedium,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"performance", "cache"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "performance.cache_hit_ratio", Operator: diagtypes.OpLt, Value: 0.7},
			},
			AutoRemediate: true,
			Actions:       []diagtypes.RemediationActionRef{{ActionID: "clear-query-cache"}},
		},
		{
			ID:                "sec-default-admin-active",
			Version:           "1.0.0",
			Name:              "Default administrator account active",
			Description:       "The vendor-shipped admin account is enabled and logging in.",
			Category:          CategorySecurity,
			DefaultSeverity:   diagtypes.SeverityCritical,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"security", "accounts"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "security.account", Operator: diagtypes.OpEq, Value: "admin"},
				{FieldPath: "security.enabled", Operator: diagtypes.OpEq, Value: true},
			},
			Actions: []diagtypes.RemediationActionRef{{ActionID: "lock-default-account"}},
		},
		{
			ID:                "sec-weak-tls-protocol",
			Version:           "1.0.0",
			Name:              "Weak TLS protocol accepted",
			Description:       "An endpoint still negotiates a deprecated TLS version.",
			Category:          CategorySecurity,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"security", "transport"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "security.tls_protocols", Operator: diagtypes.OpRegex, Value: "TLSv1\\.[01]"},
			},
		},
		{
			ID:                "sec-excessive-failed-logins",
			Version:           "1.0.0",
			Name:              "Excessive failed logins",
			Description:       "An account shows a failed-login burst suggesting brute forcing.",
			Category:          CategorySecurity,
			DefaultSeverity:   diagtypes.SeverityMedium,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"security", "accounts"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "security.failed_logins", Operator: diagtypes.OpGt, Value: 50},
			},
		},
		{
			ID:                "cfg-debug-mode-enabled",
			Version:           "1.0.0",
			Name:              "Debug mode enabled in production",
			Description:       "Verbose debug output is switched on for a production instance.",
			Category:          CategoryConfiguration,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"configuration"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "configuration.debug_enabled", Operator: diagtypes.OpEq, Value: true},
			},
			AutoRemediate: true,
			Actions:       []diagtypes.RemediationActionRef{{ActionID: "disable-debug-mode"}},
		},
		{
			ID:                "cfg-session-timeout-low",
			Version:           "1.0.0",
			Name:              "Session timeout below recommended floor",
			Description:       "Sessions expire so quickly that background jobs lose their context.",
			Category:          CategoryConfiguration,
			DefaultSeverity:   diagtypes.SeverityLow,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"configuration"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "configuration.session_timeout_seconds", Operator: diagtypes.OpLt, Value: 60},
			},
			Actions: []diagtypes.RemediationActionRef{{ActionID: "raise-timeout"}},
		},
		{
			ID:                "cfg-backup-not-configured",
			Version:           "1.0.0",
			Name:              "No backup schedule configured",
			Description:       "The instance carries no backup schedule at all.",
			Category:          CategoryConfiguration,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"configuration", "durability"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "configuration.backup_schedule", Operator: diagtypes.OpNotExists},
			},
		},
		{
			ID:                "int-orphaned-records",
			Version:           "1.0.0",
			Name:              "Orphaned content records",
			Description:       "Rows reference parent content that no longer exists.",
			Category:          CategoryIntegrity,
			DefaultSeverity:   diagtypes.SeverityMedium,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"integrity", "database"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "integrity.orphaned_rows", Operator: diagtypes.OpGt, Value: 0},
			},
			Actions: []diagtypes.RemediationActionRef{{ActionID: "purge-orphaned-rows"}},
		},
		{
			ID:                "int-index-fragmentation",
			Version:           "1.0.0",
			Name:              "Index heavily fragmented",
			Description:       "Fragmentation past the threshold degrades every lookup on the table.",
			Category:          CategoryIntegrity,
			DefaultSeverity:   diagtypes.SeverityMedium,
			Enabled:           true,
			SupportedVersions: []string{"10.*", "11.*"},
			Tags:              []string{"integrity", "database"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "integrity.fragmentation_percent", Operator: diagtypes.OpGt, Value: 40},
			},
			Actions: []diagtypes.RemediationActionRef{{ActionID: "rebuild-index"}},
		},
		{
			ID:                "conf-extension-version-clash",
			Version:           "1.0.0",
			Name:              "Extension version conflict",
			Description:       "Two installed extensions require incompatible versions of a shared library.",
			Category:          CategoryConflicts,
			DefaultSeverity:   diagtypes.SeverityHigh,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"conflicts", "extensions"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "conflicts.clash_count", Operator: diagtypes.OpGt, Value: 0},
			},
		},
		{
			ID:                "conf-duplicate-hook",
			Version:           "1.0.0",
			Name:              "Duplicate event hook registration",
			Description:       "The same hook is registered twice, so side effects run twice per event.",
			Category:          CategoryConflicts,
			DefaultSeverity:   diagtypes.SeverityMedium,
			Enabled:           true,
			SupportedVersions: []string{"*"},
			Tags:              []string{"conflicts", "extensions"},
			Conditions: []diagtypes.RuleCondition{
				{FieldPath: "conflicts.hooks", Operator: diagtypes.OpContains, Value: "duplicate"},
			},
		},
	}
}
