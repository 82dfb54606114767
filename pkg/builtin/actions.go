package builtin

import (
	"context"
	"time"

	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/remediation"
)

// remediationQueryCategory is the Query.Category built-in handlers use
// for write operations; Connector implementations route it to their
// mutation surface.
const remediationQueryCategory = "remediation"

// Actions returns the built-in RemediationAction catalog. Every id
// referenced by Rules() resolves here.
func Actions() []*diagtypes.RemediationAction {
	return []*diagtypes.RemediationAction{
		{
			ID:                "increase-pool-size",
			Kind:              diagtypes.ActionAutomatic,
			Operation:         "increase-pool-size",
			Parameters:        map[string]interface{}{"increment": 50},
			Risk:              diagtypes.RiskLow,
			EstimatedDuration: 10 * time.Second,
			CanRollback:       true,
			RollbackOperation: "decrease-pool-size",
			RollbackParams:    map[string]interface{}{"decrement": 50},
		},
		{
			ID:                "clear-query-cache",
			Kind:              diagtypes.ActionAutomatic,
			Operation:         "clear-query-cache",
			Risk:              diagtypes.RiskLow,
			EstimatedDuration: 5 * time.Second,
			// flushing a cache is idempotent; there is nothing to roll
			// back to.
			CanRollback: false,
		},
		{
			ID:                "raise-timeout",
			Kind:              diagtypes.ActionAutomatic,
			Operation:         "raise-timeout",
			Parameters:        map[string]interface{}{"target_seconds": 300},
			Risk:              diagtypes.RiskLow,
			EstimatedDuration: 5 * time.Second,
			CanRollback:       true,
			RollbackOperation: "set-timeout",
		},
		{
			ID:                "disable-debug-mode",
			Kind:              diagtypes.ActionSemiAutomatic,
			Operation:         "disable-debug-mode",
			Risk:              diagtypes.RiskMedium,
			RequiresApproval:  true,
			EstimatedDuration: 5 * time.Second,
			CanRollback:       true,
			RollbackOperation: "enable-debug-mode",
			PostConditions: []diagtypes.GuardExpression{
				{FieldPath: "configuration.debug_enabled", Operator: diagtypes.OpEq, Value: false},
			},
		},
		{
			ID:                "lock-default-account",
			Kind:              diagtypes.ActionSemiAutomatic,
			Operation:         "lock-account",
			Parameters:        map[string]interface{}{"account": "admin"},
			Risk:              diagtypes.RiskHigh,
			RequiresApproval:  true,
			EstimatedDuration: 5 * time.Second,
			CanRollback:       true,
			RollbackOperation: "unlock-account",
			RollbackParams:    map[string]interface{}{"account": "admin"},
		},
		{
			ID:                "purge-orphaned-rows",
			Kind:              diagtypes.ActionSemiAutomatic,
			Operation:         "purge-orphaned-rows",
			Risk:              diagtypes.RiskMedium,
			RequiresApproval:  true,
			EstimatedDuration: time.Minute,
			CanRollback:       true,
			RollbackOperation: "restore-purged-rows",
		},
		{
			ID:                "rebuild-index",
			Kind:              diagtypes.ActionManual,
			Operation:         "rebuild-index",
			Risk:              diagtypes.RiskHigh,
			RequiresApproval:  true,
			RequiresDowntime:  true,
			EstimatedDuration: 5 * time.Minute,
			// a rebuild replaces the index in place; re-running it is
			// the recovery path, not a restore.
			CanRollback: false,
		},
	}
}

// connectorHandler builds an ActionHandler that performs operation
// through the Connector's query surface and reports the first returned
// row as the after-state.
func connectorHandler(conn connector.Connector, operation string) remediation.ActionHandler {
	return func(ctx context.Context, finding *diagtypes.Finding, action *diagtypes.RemediationAction) (map[string]interface{}, error) {
		params := map[string]interface{}{"component": finding.Key.Component, "resource": finding.Key.ResourcePath}
		for k, v := range action.Parameters {
			params[k] = v
		}
		rows, err := conn.ExecuteQuery(ctx, connector.Query{
			Category:  remediationQueryCategory,
			Statement: operation,
			Params:    params,
		})
		if err != nil {
			return nil, err
		}
		after := map[string]interface{}{}
		if len(rows) > 0 {
			for k, v := range rows[0] {
				after[k] = v
			}
		}
		return after, nil
	}
}

// registerHandlers binds every built-in operation (including rollback
// operations) to a Connector-backed handler.
func registerHandlers(eng *remediation.Engine, conn connector.Connector) {
	ops := map[string]bool{}
	for _, a := range Actions() {
		ops[a.Operation] = true
		if a.RollbackOperation != "" {
			ops[a.RollbackOperation] = true
		}
	}
	for op := range ops {
		eng.RegisterHandler(op, connectorHandler(conn, op))
	}
}
