package builtin

import (
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scanner"
)

// scannerSpec declares one built-in category worker: the Connector
// query it extracts with and the row field identifying each resource.
type scannerSpec struct {
	id          string
	name        string
	category    string
	resourceKey string
}

var scannerSpecs = []scannerSpec{
	{id: "perf-scanner", name: "Performance Scanner", category: CategoryPerformance, resourceKey: "hostname"},
	{id: "sec-scanner", name: "Security Scanner", category: CategorySecurity, resourceKey: "account"},
	{id: "cfg-scanner", name: "Configuration Scanner", category: CategoryConfiguration, resourceKey: "path"},
	{id: "int-scanner", name: "Integrity Scanner", category: CategoryIntegrity, resourceKey: "table_name"},
	{id: "conf-scanner", name: "Conflict Scanner", category: CategoryConflicts, resourceKey: "extension"},
}

// Scanners returns one built-in scanner per diagnostic category, each
// extracting through conn with the category as its query document and
// evaluating rules through eng. batchSize <= 0 uses the framework
// default.
func Scanners(conn connector.Connector, eng *ruleengine.Engine, batchSize int) []scanner.Scanner {
	out := make([]scanner.Scanner, 0, len(scannerSpecs))
	for _, spec := range scannerSpecs {
		extract := scanner.ConnectorExtractor(conn, connector.Query{Category: spec.category}, spec.resourceKey, spec.category)
		out = append(out, scanner.NewBase(spec.id, spec.name, spec.category, "1.0.0", []string{"*"}, extract, eng, batchSize))
	}
	return out
}
