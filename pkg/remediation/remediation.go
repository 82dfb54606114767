// Package remediation implements the Remediation Engine:
// validate/execute/rollback of a RemediationAction against a Finding,
// gated by approval, serialized per finding, snapshotted before any
// mutation, and automatically rolled back on a failed post-condition.
package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/internal/logging"
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore"
	"github.com/CloudXploit/appcm-diagkernel/pkg/metrics"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
	"github.com/CloudXploit/appcm-diagkernel/pkg/snapshot"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ActionHandler performs one RemediationAction's operation against the
// target system and reports the after-state it produced. The Engine
// supplies the before-state captured from StateReader; a handler only
// needs to report what it changed.
type ActionHandler func(ctx context.Context, finding *diagtypes.Finding, action *diagtypes.RemediationAction) (after map[string]interface{}, err error)

// StateReader resolves a finding's component/resource into the
// Connector-observed field data pre/post conditions evaluate against,
// mirroring the Scanner Framework's own field-path resolution.
type StateReader func(ctx context.Context, key diagtypes.FindingKey) (map[string]value.Value, error)

// Config tunes approval policy, retry, timeout, and concurrency
// behavior.
type Config struct {
	// RequireApproval is the global policy override: when
	// true, every action is treated as requiresApproval regardless of
	// its own flag.
	RequireApproval bool

	// PoolSize bounds concurrently executing remediations across all
	// findings, keeping destructive concurrency small (default 2).
	PoolSize int

	MaxRetries     int           // default 2
	RetryBaseDelay time.Duration // default 2s
	RetryMaxDelay  time.Duration // default 30s

	MinActionTimeout time.Duration // default 30s
	MaxActionTimeout time.Duration // default 10min

	SnapshotTTL time.Duration // default 1h
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.MinActionTimeout <= 0 {
		c.MinActionTimeout = 30 * time.Second
	}
	if c.MaxActionTimeout <= 0 {
		c.MaxActionTimeout = 10 * time.Minute
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = time.Hour
	}
}

// ExecuteOptions carries execute(action, finding)'s caller-supplied
// parameters.
type ExecuteOptions struct {
	ApprovedBy string
	DryRun     bool
	ExecutedBy string
}

// pendingExec parks everything needed to resume an attempt the moment
// an external approver signs off; approval is an external, idempotent
// transition pending -> approved.
type pendingExec struct {
	action  *diagtypes.RemediationAction
	finding *diagtypes.Finding
	opts    ExecuteOptions
}

// Engine is the Remediation Engine.
type Engine struct {
	cfg      Config
	engine   *ruleengine.Engine
	findings findingstore.Store
	snaps    *snapshot.Manager
	bus      *eventbus.Bus
	log      logrus.FieldLogger
	state    StateReader
	pool     *semaphore.Weighted

	mu       sync.Mutex
	handlers map[string]ActionHandler
	leases   map[diagtypes.FindingKey]bool
	attempts map[string]*diagtypes.RemediationAttempt
	parked   map[string]pendingExec
}

// New constructs a Remediation Engine.
func New(cfg Config, eng *ruleengine.Engine, findings findingstore.Store, snaps *snapshot.Manager, bus *eventbus.Bus, log logrus.FieldLogger, state StateReader) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		engine:   eng,
		findings: findings,
		snaps:    snaps,
		bus:      bus,
		log:      log,
		state:    state,
		pool:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		handlers: map[string]ActionHandler{},
		leases:   map[diagtypes.FindingKey]bool{},
		attempts: map[string]*diagtypes.RemediationAttempt{},
		parked:   map[string]pendingExec{},
	}
}

// RegisterHandler binds action.Operation to the function that actually
// performs it; operations are declarative and pluggable.
func (e *Engine) RegisterHandler(operation string, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[operation] = handler
}

// GetAttempt returns a RemediationAttempt by id.
func (e *Engine) GetAttempt(id string) (*diagtypes.RemediationAttempt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.attempts[id]
	return a, ok
}

// ValidationResult is the outcome of Validate: whether the finding is
// still open, the action applicable, its pre-conditions true, and
// what impact to expect.
type ValidationResult struct {
	Valid            bool
	Reason           string
	EstimatedImpact  time.Duration
	RequiresDowntime bool
}

// Validate checks a (finding, action) pair without mutating
// anything: it is safe to call repeatedly, e.g. by a caller deciding
// whether to request approval before Execute.
func (e *Engine) Validate(ctx context.Context, finding *diagtypes.Finding, action *diagtypes.RemediationAction) (*ValidationResult, error) {
	if err := action.Validate(); err != nil {
		return &ValidationResult{Valid: false, Reason: err.Error()}, nil
	}
	if finding.Resolved {
		return &ValidationResult{Valid: false, Reason: "finding is already resolved"}, nil
	}
	if !finding.Remediable {
		return &ValidationResult{Valid: false, Reason: "finding is not remediable"}, nil
	}
	if finding.FalsePositive {
		return &ValidationResult{Valid: false, Reason: "finding is marked false positive"}, nil
	}

	e.mu.Lock()
	_, hasHandler := e.handlers[action.Operation]
	e.mu.Unlock()
	if !hasHandler {
		return &ValidationResult{Valid: false, Reason: fmt.Sprintf("no handler registered for operation %q", action.Operation)}, nil
	}

	if ok, err := e.checkGuards(ctx, action.PreConditions, finding.Key); err != nil {
		return &ValidationResult{Valid: false, Reason: "pre-condition evaluation failed: " + err.Error()}, nil
	} else if !ok {
		return &ValidationResult{Valid: false, Reason: "pre-conditions not satisfied"}, nil
	}

	return &ValidationResult{
		Valid:            true,
		EstimatedImpact:  diagtypes.ActionTimeout(action.EstimatedDuration, e.cfg.MinActionTimeout, e.cfg.MaxActionTimeout),
		RequiresDowntime: action.RequiresDowntime,
	}, nil
}

// Execute runs action against finding. An
// action that requires approval but has no approver yet is parked in
// the pending state with a remediation.approval-requested event; it is
// resumed by Approve. Everything else proceeds through the full state
// machine: lease, snapshot, pre-conditions, handler (with
// retry-on-transient), post-conditions, automatic rollback on failure.
func (e *Engine) Execute(ctx context.Context, action *diagtypes.RemediationAction, finding *diagtypes.Finding, opts ExecuteOptions) (*diagtypes.RemediationAttempt, error) {
	if err := e.validateForExecute(action, finding, opts); err != nil {
		return nil, err
	}

	if !e.acquireLease(finding.Key) {
		return nil, kerrors.Newf(kerrors.ErrorTypeBackpressure, "finding %s already has a remediation in flight", finding.Key)
	}

	attempt := diagtypes.NewAttempt(uuid.NewString(), finding.Key, action.ID)
	attempt.ExecutedBy = opts.ExecutedBy
	attempt.ApprovedBy = opts.ApprovedBy
	attempt.DryRun = opts.DryRun
	e.mu.Lock()
	e.attempts[attempt.ID] = attempt
	e.mu.Unlock()

	if e.approvalRequired(action) && opts.ApprovedBy == "" {
		// stay pending; the lease is held until Approve or Deny
		// terminates the attempt, preserving "at most one non-terminal
		// attempt per (finding, action)".
		e.mu.Lock()
		e.parked[attempt.ID] = pendingExec{action: action, finding: finding, opts: opts}
		e.mu.Unlock()
		e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationApprovalRequested, SystemID: finding.Key.SystemID, FindingID: finding.Key.String(), AttemptID: attempt.ID})
		e.log.WithFields(logging.NewFields().FindingID(finding.Key.String()).AttemptID(attempt.ID).ToLogrus()).
			Info("remediation attempt parked pending approval")
		return attempt, nil
	}

	_ = attempt.Transition(diagtypes.AttemptApproved, time.Now())
	return e.execApproved(ctx, action, finding, attempt)
}

// Approve is the external, idempotent pending -> approved transition.
// Approving an attempt that is already past pending is a
// no-op returning its current state; approving a parked attempt
// resumes its execution synchronously.
func (e *Engine) Approve(ctx context.Context, attemptID, approvedBy string) (*diagtypes.RemediationAttempt, error) {
	e.mu.Lock()
	attempt, ok := e.attempts[attemptID]
	parked, isParked := e.parked[attemptID]
	if isParked {
		delete(e.parked, attemptID)
	}
	e.mu.Unlock()

	if !ok {
		return nil, kerrors.Newf(kerrors.ErrorTypeInvalidInput, "attempt %s not found", attemptID)
	}
	if !isParked || attempt.Status != diagtypes.AttemptPending {
		return attempt, nil
	}

	if err := attempt.Transition(diagtypes.AttemptApproved, time.Now()); err != nil {
		e.releaseLease(attempt.FindingKey)
		return attempt, kerrors.Wrap(err, kerrors.ErrorTypeIllegalState, "approving attempt")
	}
	attempt.ApprovedBy = approvedBy
	return e.execApproved(ctx, parked.action, parked.finding, attempt)
}

// Deny terminates a parked attempt without executing it, releasing the
// finding's lease so a future attempt can proceed.
func (e *Engine) Deny(attemptID, deniedBy string) error {
	e.mu.Lock()
	attempt, ok := e.attempts[attemptID]
	_, isParked := e.parked[attemptID]
	delete(e.parked, attemptID)
	e.mu.Unlock()

	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "attempt %s not found", attemptID)
	}
	if !isParked || attempt.Status != diagtypes.AttemptPending {
		return kerrors.Newf(kerrors.ErrorTypeIllegalState, "attempt %s is not awaiting approval", attemptID)
	}

	_ = attempt.Transition(diagtypes.AttemptFailed, time.Now())
	attempt.Error = "approval denied by " + deniedBy
	e.releaseLease(attempt.FindingKey)
	metrics.RecordRemediationAttempt(string(diagtypes.AttemptFailed), 0)
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationFailed, SystemID: attempt.FindingKey.SystemID, FindingID: attempt.FindingKey.String(), AttemptID: attempt.ID})
	return nil
}

// execApproved drives an approved attempt through the execution pool
// and the per-action timeout, always releasing the finding's lease on
// termination.
func (e *Engine) execApproved(ctx context.Context, action *diagtypes.RemediationAction, finding *diagtypes.Finding, attempt *diagtypes.RemediationAttempt) (*diagtypes.RemediationAttempt, error) {
	defer e.releaseLease(finding.Key)

	if err := e.pool.Acquire(ctx, 1); err != nil {
		return e.fail(finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeCancelled, "waiting for an execution slot"))
	}
	defer e.pool.Release(1)

	timeout := diagtypes.ActionTimeout(action.EstimatedDuration, e.cfg.MinActionTimeout, e.cfg.MaxActionTimeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.run(execCtx, action, finding, attempt)
}

func (e *Engine) validateForExecute(action *diagtypes.RemediationAction, finding *diagtypes.Finding, opts ExecuteOptions) error {
	if err := action.Validate(); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeInvalidInput, "validating action")
	}
	if finding.Resolved {
		return kerrors.Newf(kerrors.ErrorTypeIllegalState, "finding %s is already resolved", finding.Key)
	}
	if !finding.Remediable {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "finding %s is not remediable", finding.Key)
	}
	if finding.FalsePositive {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "finding %s is marked false positive", finding.Key)
	}
	e.mu.Lock()
	_, hasHandler := e.handlers[action.Operation]
	e.mu.Unlock()
	if !opts.DryRun && !hasHandler {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "no handler registered for operation %q", action.Operation)
	}
	return nil
}

// approvalRequired folds the global policy into the action's own flag:
// when the engine-wide RequireApproval is set, every action gates.
func (e *Engine) approvalRequired(action *diagtypes.RemediationAction) bool {
	return action.RequiresApproval || e.cfg.RequireApproval
}

// acquireLease implements per-finding mutual exclusion: at
// most one in-flight remediation attempt per finding at a time.
func (e *Engine) acquireLease(key diagtypes.FindingKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leases[key] {
		return false
	}
	e.leases[key] = true
	return true
}

func (e *Engine) releaseLease(key diagtypes.FindingKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.leases, key)
}

// run implements steps 2-8: snapshot, pre-condition, execute (with
// retry), post-condition, and automatic rollback on failure.
// Cancellation is honored only between those phases, never inside the
// handler invocation itself, to avoid half-applied changes.
func (e *Engine) run(ctx context.Context, action *diagtypes.RemediationAction, finding *diagtypes.Finding, attempt *diagtypes.RemediationAttempt) (*diagtypes.RemediationAttempt, error) {
	log := e.log.WithFields(logging.NewFields().FindingID(finding.Key.String()).AttemptID(attempt.ID).ToLogrus())

	// a dry run never touches the target, so it never snapshots it
	// either.
	if !attempt.DryRun && action.CanRollback && e.snaps != nil {
		id, err := e.snaps.Snapshot(ctx, diagtypes.SnapshotScope{SystemID: finding.Key.SystemID, ComponentPath: finding.Key.Component, Type: diagtypes.SnapshotConfiguration})
		if err != nil {
			return e.fail(finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "snapshotting before remediation"))
		}
		_ = e.snaps.Pin(id)
		defer e.snaps.Release(id)
		attempt.SnapshotID = id
	}

	if ok, err := e.checkGuards(ctx, action.PreConditions, finding.Key); err != nil {
		return e.fail(finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeRuleMisconfigured, "evaluating pre-conditions"))
	} else if !ok {
		return e.fail(finding, attempt, kerrors.New(kerrors.ErrorTypePreconditionFalse, "pre-conditions not satisfied"))
	}

	if err := ctx.Err(); err != nil {
		return e.fail(finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeCancelled, "cancelled before execution"))
	}

	_ = attempt.Transition(diagtypes.AttemptExecuting, time.Now())
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationStarted, SystemID: finding.Key.SystemID, FindingID: finding.Key.String(), AttemptID: attempt.ID})

	start := time.Now()

	if attempt.DryRun {
		// dryRun short-circuits after the pre-conditions, before the
		// before-state is captured or the handler changes anything.
		_ = attempt.Transition(diagtypes.AttemptCompleted, time.Now())
		attempt.Success = true
		metrics.RecordRemediationAttempt(string(diagtypes.AttemptCompleted), time.Since(start))
		e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationCompleted, SystemID: finding.Key.SystemID, FindingID: finding.Key.String(), AttemptID: attempt.ID})
		log.Info("dry-run remediation attempt completed")
		return attempt, nil
	}

	before := e.readStateSafely(ctx, finding.Key)
	after, execErr := e.executeWithRetry(ctx, action, finding, log)

	if execErr != nil {
		return e.failAndRollback(ctx, action, finding, attempt, kerrors.Wrap(execErr, kerrors.ErrorTypeConnectorPermanent, "executing remediation action"))
	}

	attempt.ChangesMade = &diagtypes.ChangeSet{Before: before, After: after}

	if err := ctx.Err(); err != nil {
		return e.failAndRollback(ctx, action, finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeCancelled, "cancelled after execution"))
	}

	if ok, err := e.checkGuards(ctx, action.PostConditions, finding.Key); err != nil {
		return e.failAndRollback(ctx, action, finding, attempt, kerrors.Wrap(err, kerrors.ErrorTypeRuleMisconfigured, "evaluating post-conditions"))
	} else if !ok {
		return e.failAndRollback(ctx, action, finding, attempt, kerrors.New(kerrors.ErrorTypePostconditionFalse, "post-conditions not satisfied after remediation"))
	}

	_ = attempt.Transition(diagtypes.AttemptCompleted, time.Now())
	attempt.Success = true
	e.recordHistory(finding, attempt)
	metrics.RecordRemediationAttempt(string(diagtypes.AttemptCompleted), time.Since(start))
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationCompleted, SystemID: finding.Key.SystemID, FindingID: finding.Key.String(), AttemptID: attempt.ID})

	_ = e.findings.MarkResolved(ctx, finding.Key, attempt.ExecutedBy)
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicFindingResolved, SystemID: finding.Key.SystemID, FindingID: finding.Key.String()})

	log.Info("remediation attempt completed")
	return attempt, nil
}

// executeWithRetry invokes the action's handler with up to cfg.MaxRetries
// retries of a transient handler failure, exponential backoff from
// RetryBaseDelay capped at RetryMaxDelay.
func (e *Engine) executeWithRetry(ctx context.Context, action *diagtypes.RemediationAction, finding *diagtypes.Finding, log logrus.FieldLogger) (map[string]interface{}, error) {
	e.mu.Lock()
	handler := e.handlers[action.Operation]
	e.mu.Unlock()

	delay := e.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		after, err := handler(ctx, finding, action)
		if err == nil {
			return after, nil
		}
		lastErr = err
		// handlers surface transient failures either as the kernel's own
		// taxonomy or as connector.Error; both retry.
		if !kerrors.Retryable(err) && !connector.IsTransient(err) {
			return nil, err
		}
		log.WithField("attempt", attempt+1).Warn("remediation action failed transiently, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.cfg.RetryMaxDelay {
			delay = e.cfg.RetryMaxDelay
		}
	}
	return nil, lastErr
}

// checkGuards evaluates a set of guard expressions against the
// finding's current Connector-observed state.
func (e *Engine) checkGuards(ctx context.Context, guards []diagtypes.GuardExpression, key diagtypes.FindingKey) (bool, error) {
	if len(guards) == 0 {
		return true, nil
	}
	if e.state == nil {
		return true, nil
	}
	data, err := e.state(ctx, key)
	if err != nil {
		return false, err
	}
	return e.engine.EvalConditions(guards, data)
}

func (e *Engine) readStateSafely(ctx context.Context, key diagtypes.FindingKey) map[string]interface{} {
	if e.state == nil {
		return nil
	}
	data, err := e.state(ctx, key)
	if err != nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v.ToNative()
	}
	return out
}

func (e *Engine) fail(finding *diagtypes.Finding, attempt *diagtypes.RemediationAttempt, err error) (*diagtypes.RemediationAttempt, error) {
	_ = attempt.Transition(diagtypes.AttemptFailed, time.Now())
	attempt.Error = err.Error()
	e.recordHistory(finding, attempt)
	metrics.RecordRemediationAttempt(string(diagtypes.AttemptFailed), 0)
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationFailed, SystemID: attempt.FindingKey.SystemID, FindingID: attempt.FindingKey.String(), AttemptID: attempt.ID})
	return attempt, err
}

// recordHistory appends a terminal attempt to the finding's remediation
// history. The finding pointer is the caller's live copy; persistence of
// the history ride-alongs on the next Upsert.
func (e *Engine) recordHistory(finding *diagtypes.Finding, attempt *diagtypes.RemediationAttempt) {
	if finding == nil {
		return
	}
	finding.History = append(finding.History, diagtypes.RemediationHistoryEntry{
		AttemptID: attempt.ID,
		ActionID:  attempt.ActionID,
		At:        time.Now(),
		Success:   attempt.Success,
	})
}

// failAndRollback handles the failing tail of an attempt: a post-condition
// failure (or an execution error after a snapshot was taken) first
// reports the failure, then rolls the target back rather than leaving
// it mutated. The failure event precedes the restore so subscribers
// observe remediation.failed followed by snapshot.restored.
func (e *Engine) failAndRollback(ctx context.Context, action *diagtypes.RemediationAction, finding *diagtypes.Finding, attempt *diagtypes.RemediationAttempt, cause error) (*diagtypes.RemediationAttempt, error) {
	attempt.Error = cause.Error()
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationFailed, SystemID: attempt.FindingKey.SystemID, FindingID: attempt.FindingKey.String(), AttemptID: attempt.ID, Payload: cause.Error()})

	if action.CanRollback && attempt.SnapshotID != "" && e.snaps != nil {
		// the execution context may already be expired (timeout is one
		// of the reasons we are here), so the restore gets its own.
		restoreCtx, cancel := context.WithTimeout(context.Background(), e.cfg.MaxActionTimeout)
		defer cancel()
		if err := e.snaps.Restore(restoreCtx, attempt.SnapshotID); err != nil {
			// the rollback failure is reported, but the original
			// execution failure is what the caller sees.
			e.log.WithFields(logging.NewFields().AttemptID(attempt.ID).Error(err).ToLogrus()).Error("rollback restore failed")
			_ = attempt.Transition(diagtypes.AttemptFailed, time.Now())
			e.recordHistory(finding, attempt)
			metrics.RecordRemediationAttempt(string(diagtypes.AttemptFailed), 0)
			return attempt, cause
		}
		_ = attempt.Transition(diagtypes.AttemptRolledBack, time.Now())
		metrics.RecordRemediationRollback()
		e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationRolledBack, SystemID: attempt.FindingKey.SystemID, FindingID: attempt.FindingKey.String(), AttemptID: attempt.ID})
	} else {
		_ = attempt.Transition(diagtypes.AttemptFailed, time.Now())
	}
	e.recordHistory(finding, attempt)
	metrics.RecordRemediationAttempt(string(attempt.Status), 0)
	return attempt, cause
}

// Rollback lets an operator explicitly roll back a prior completed,
// successful attempt, distinct from the automatic rollback a failed
// post-condition triggers inside run.
func (e *Engine) Rollback(ctx context.Context, attemptID string) error {
	e.mu.Lock()
	attempt, ok := e.attempts[attemptID]
	e.mu.Unlock()
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "attempt %s not found", attemptID)
	}
	if attempt.Status != diagtypes.AttemptCompleted || !attempt.Success {
		return kerrors.Newf(kerrors.ErrorTypeIllegalState, "attempt %s is not a completed, successful attempt", attemptID)
	}
	if attempt.SnapshotID == "" {
		return kerrors.Newf(kerrors.ErrorTypeIllegalState, "attempt %s has no snapshot to roll back to", attemptID)
	}
	if err := e.snaps.Restore(ctx, attempt.SnapshotID); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeConnectorTransient, "restoring rollback snapshot")
	}
	if err := attempt.Transition(diagtypes.AttemptRolledBack, time.Now()); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeIllegalState, "transitioning attempt to rolled-back")
	}
	metrics.RecordRemediationRollback()
	e.bus.Publish(eventbus.Event{Type: eventbus.TopicRemediationRolledBack, SystemID: attempt.FindingKey.SystemID, FindingID: attempt.FindingKey.String(), AttemptID: attempt.ID})
	return nil
}
