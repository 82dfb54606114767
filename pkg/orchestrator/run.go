package orchestrator

import (
	"context"
	"time"

	"github.com/CloudXploit/appcm-diagkernel/internal/logging"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/metrics"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scanner"
	"golang.org/x/sync/errgroup"
)

// taskOutcome pairs a dispatched scanner's result with its scanner id
// for same-key tie-breaks.
type taskOutcome struct {
	scannerID string
	result    scanner.ScanResult
}

// run executes one scan end to end. It always releases both
// semaphores and always leaves the scan in a terminal status, even on
// internal error or cancellation.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, scan *diagtypes.Scan) {
	defer cancel()
	defer o.queueSem.Release(1)

	if err := o.runningSem.Acquire(ctx, 1); err != nil {
		// the scan was cancelled or timed out while still queued.
		o.finishQueued(scan, ctx.Err())
		return
	}
	defer o.runningSem.Release(1)

	o.mu.Lock()
	err := scan.Transition(diagtypes.ScanRunning, time.Now())
	o.mu.Unlock()
	if err != nil {
		o.log.WithFields(logging.NewFields().ScanID(scan.ID).Error(err).ToLogrus()).Error("scan failed to start")
		return
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TopicScanStarted, SystemID: scan.SystemID, ScanID: scan.ID})

	systemVersion := ""
	if o.versionOf != nil {
		if v, verr := o.versionOf(ctx, scan.SystemID); verr == nil {
			systemVersion = v
		}
	}

	rules := o.registry.ResolveRules(scan.Options.RuleIDs, scan.Options.Categories, systemVersion)
	rulesByCategory := groupByCategory(rules)
	scanners := o.registry.ScannersForCategories(categoriesOf(rulesByCategory))

	previous, _ := o.previousFindings(ctx, scan.SystemID)
	if previous == nil {
		previous = map[diagtypes.FindingKey]*diagtypes.Finding{}
	}

	outcomes := o.dispatch(ctx, scan, scanners, rulesByCategory, systemVersion, previous)
	findings, anyFindings, capped := o.reconcileAndPersist(ctx, scan, outcomes)

	status := diagtypes.ScanCompleted
	reason := ""
	switch {
	case ctx.Err() == context.Canceled:
		status = diagtypes.ScanCancelled
	case ctx.Err() == context.DeadlineExceeded:
		status = diagtypes.ScanFailed
		reason = "scan deadline exceeded"
	case capped:
		status = diagtypes.ScanFailed
		reason = "finding cap exceeded"
	case !anyFindings && allTasksErrored(outcomes):
		status = diagtypes.ScanFailed
		reason = "every scanner task errored"
	}

	o.mu.Lock()
	scan.FailureReason = reason
	_ = scan.Transition(status, time.Now())
	o.mu.Unlock()

	duration := time.Duration(0)
	if scan.StartedAt != nil && scan.CompletedAt != nil {
		duration = scan.CompletedAt.Sub(*scan.StartedAt)
	}
	metrics.RecordScanCompleted(string(status), duration)

	switch status {
	case diagtypes.ScanCompleted:
		o.bus.Publish(eventbus.Event{Type: eventbus.TopicScanCompleted, SystemID: scan.SystemID, ScanID: scan.ID})
	case diagtypes.ScanFailed:
		o.bus.Publish(eventbus.Event{Type: eventbus.TopicScanFailed, SystemID: scan.SystemID, ScanID: scan.ID, Payload: scan.FailureReason})
	case diagtypes.ScanCancelled:
		o.bus.Publish(eventbus.Event{Type: eventbus.TopicScanCancelled, SystemID: scan.SystemID, ScanID: scan.ID})
	}

	o.publishRemediationAvailable(scan, rules, findings)
}

// finishQueued handles a scan that never got a running slot, e.g.
// because CancelScan fired or the deadline elapsed while it was still
// in the bounded queue. Either way the scan never ran, so it lands in
// cancelled; the cause is kept as the failure reason for operators.
func (o *Orchestrator) finishQueued(scan *diagtypes.Scan, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if scan.Status.IsTerminal() {
		return
	}
	if cause != nil && cause != context.Canceled {
		scan.FailureReason = cause.Error()
	}
	_ = scan.Transition(diagtypes.ScanCancelled, time.Now())
}

// dispatch runs one task per scanner, each task receiving only its
// scanner's category's rules, bounded by a per-scan concurrency cap
// equal to the number of scanners. Partial
// failures never cancel sibling tasks.
func (o *Orchestrator) dispatch(ctx context.Context, scan *diagtypes.Scan, scanners []scanner.Scanner, rulesByCategory map[string][]*diagtypes.DiagnosticRule, systemVersion string, previous map[diagtypes.FindingKey]*diagtypes.Finding) []taskOutcome {
	if len(scanners) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(scanners))

	outcomes := make([]taskOutcome, len(scanners))
	completed := int64(0)
	total := int64(len(scanners))

	for i, s := range scanners {
		i, s := i, s
		g.Go(func() error {
			result := s.Scan(gctx, scanner.ScanContext{
				SystemID:         scan.SystemID,
				SystemVersion:    systemVersion,
				Rules:            rulesByCategory[s.Category()],
				PreviousFindings: previous,
				Now:              time.Now(),
			})
			outcomes[i] = taskOutcome{scannerID: s.ID(), result: result}
			o.publishDisabledRules(scan, result)

			// a task interrupted by cancellation does not advance
			// progress: progress reaches 100 iff the scan completes.
			if gctx.Err() != nil {
				return nil
			}
			o.mu.Lock()
			completed++
			scan.SetProgress(int(100 * completed / total))
			progress := scan.Progress
			o.mu.Unlock()
			o.bus.Publish(eventbus.Event{Type: eventbus.TopicScanProgress, SystemID: scan.SystemID, ScanID: scan.ID, Payload: progress})
			return nil // a scanner's own failure never poisons the orchestrator
		})
	}
	_ = g.Wait()
	return outcomes
}

// publishDisabledRules narrates rule misconfiguration: a rule the
// scanner disabled mid-scan is announced on the bus so operators see
// it without the scan aborting.
func (o *Orchestrator) publishDisabledRules(scan *diagtypes.Scan, result scanner.ScanResult) {
	for _, e := range result.Errors {
		if !e.Misconfigured {
			continue
		}
		o.log.WithFields(logging.NewFields().ScanID(scan.ID).RuleID(e.RuleID).ToLogrus()).
			Warn("rule disabled for this scan: " + e.Message)
		o.bus.Publish(eventbus.Event{
			Type: eventbus.TopicRuleDisabled, SystemID: scan.SystemID,
			ScanID: scan.ID, Payload: map[string]interface{}{"ruleId": e.RuleID, "reason": e.Message},
		})
	}
}

// allTasksErrored reports whether every dispatched task carried at
// least one error. A scan that resolved zero tasks (no enabled,
// version-compatible rule matched) is vacuously clean: it completes
// with zero findings rather than failing.
func allTasksErrored(outcomes []taskOutcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, o := range outcomes {
		if len(o.result.Errors) == 0 {
			return false
		}
	}
	return true
}

func groupByCategory(rules []*diagtypes.DiagnosticRule) map[string][]*diagtypes.DiagnosticRule {
	out := map[string][]*diagtypes.DiagnosticRule{}
	for _, r := range rules {
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}

func categoriesOf(rulesByCategory map[string][]*diagtypes.DiagnosticRule) []string {
	out := make([]string, 0, len(rulesByCategory))
	for c := range rulesByCategory {
		out = append(out, c)
	}
	return out
}

// reconcileAndPersist applies the tie-break rule (greater severity
// wins; on a tie, the lexicographically smaller scanner id wins)
// across outcomes that produced findings with the same identity
// key, then upserts the survivors via the Finding Store, stopping at
// the per-scan finding cap; a capped scan fails but keeps the partial
// findings already persisted.
func (o *Orchestrator) reconcileAndPersist(ctx context.Context, scan *diagtypes.Scan, outcomes []taskOutcome) ([]*diagtypes.Finding, bool, bool) {
	winners := map[diagtypes.FindingKey]struct {
		finding   *diagtypes.Finding
		scannerID string
	}{}

	any := false
	for _, oc := range outcomes {
		for _, f := range oc.result.Findings {
			any = true
			cur, exists := winners[f.Key]
			if !exists || f.Severity.GreaterThan(cur.finding.Severity) ||
				(f.Severity == cur.finding.Severity && oc.scannerID < cur.scannerID) {
				winners[f.Key] = struct {
					finding   *diagtypes.Finding
					scannerID string
				}{finding: f, scannerID: oc.scannerID}
			}
		}
	}

	capped := false
	var out []*diagtypes.Finding
	for _, w := range winners {
		if len(out) >= o.cfg.FindingCap {
			capped = true
			o.log.WithFields(logging.NewFields().ScanID(scan.ID).Count(o.cfg.FindingCap).ToLogrus()).
				Error("per-scan finding cap exceeded, persisting partial findings only")
			break
		}
		if err := o.store.Upsert(ctx, w.finding); err != nil {
			o.log.WithFields(logging.NewFields().ScanID(scan.ID).FindingID(w.finding.Key.String()).Error(err).ToLogrus()).
				Warn("failed to persist finding")
			continue
		}
		metrics.RecordFinding(string(w.finding.Severity))
		o.mu.Lock()
		scan.CountsBySeverity.Add(w.finding.Severity)
		scan.CountsByCategory[w.finding.Key.Component]++
		o.mu.Unlock()
		topic := eventbus.TopicFindingCreated
		if w.finding.OccurrenceCount > 1 {
			topic = eventbus.TopicFindingUpdated
		}
		o.bus.Publish(eventbus.Event{Type: topic, SystemID: scan.SystemID, ScanID: scan.ID, FindingID: w.finding.Key.String()})
		out = append(out, w.finding)
	}
	return out, any, capped
}

// publishRemediationAvailable announces auto-remediable findings: any
// remediable finding whose rule has autoRemediate=true gets a
// remediation.available event.
func (o *Orchestrator) publishRemediationAvailable(scan *diagtypes.Scan, rules []*diagtypes.DiagnosticRule, findings []*diagtypes.Finding) {
	autoRemediate := map[string]bool{}
	for _, r := range rules {
		autoRemediate[r.ID] = r.AutoRemediate
	}
	for _, f := range findings {
		if f.Remediable && autoRemediate[f.Key.RuleID] {
			o.bus.Publish(eventbus.Event{
				Type: eventbus.TopicRemediationAvailable, SystemID: scan.SystemID,
				ScanID: scan.ID, FindingID: f.Key.String(),
			})
		}
	}
}
