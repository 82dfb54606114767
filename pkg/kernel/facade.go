// Package kernel implements the Kernel Facade: the
// single construction/wiring point for the Diagnostic Orchestration
// and Remediation Kernel. Callers obtain a Facade, call Init once,
// and then drive scans and remediations entirely through its two
// entrypoints plus the extension-point accessors.
package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/CloudXploit/appcm-diagkernel/internal/config"
	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/internal/logging"
	"github.com/CloudXploit/appcm-diagkernel/pkg/builtin"
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore"
	"github.com/CloudXploit/appcm-diagkernel/pkg/metrics"
	"github.com/CloudXploit/appcm-diagkernel/pkg/orchestrator"
	"github.com/CloudXploit/appcm-diagkernel/pkg/registry"
	"github.com/CloudXploit/appcm-diagkernel/pkg/remediation"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scanner"
	"github.com/CloudXploit/appcm-diagkernel/pkg/scheduler"
	"github.com/CloudXploit/appcm-diagkernel/pkg/snapshot"
	"github.com/sirupsen/logrus"
)

// metricsDropRecorder adapts the package-level pkg/metrics counters to
// eventbus.DropRecorder, so the Event Bus never imports a metrics
// package directly; drop-oldest backpressure is observed from outside
// the bus.
type metricsDropRecorder struct{}

func (metricsDropRecorder) RecordEventBusDropped(topic string) {
	metrics.RecordEventBusDropped(topic)
}

// Deps carries the kernel's external collaborators: the Connector to
// the target CM system(s), a Finding Store
// port implementation, and a resolver from systemId to CM version.
// Everything else the Facade constructs itself.
type Deps struct {
	Connector connector.Connector
	Findings  findingstore.Store
	VersionOf orchestrator.SystemVersionResolver
	Capturer  snapshot.Capturer
	State     remediation.StateReader
	Log       logrus.FieldLogger

	// SkipBuiltins leaves the built-in rule/scanner/action catalog
	// unregistered, for tests that want a fully controlled Registry.
	SkipBuiltins bool
}

// Facade is the Kernel Facade: construction, wiring, and
// initialization order for every kernel component, with lifecycle
// init -> run -> shutdown. It is single-init: a second call to Init is
// a no-op.
type Facade struct {
	cfg  *config.Config
	deps Deps
	log  logrus.FieldLogger

	initOnce sync.Once
	ready    bool

	bus      *eventbus.Bus
	registry *registry.Registry
	rules    *ruleengine.Engine
	orch     *orchestrator.Orchestrator
	remed    *remediation.Engine
	snaps    *snapshot.Manager

	autoStop func()
	autoDone chan struct{}
}

// New constructs a Facade bound to cfg and deps. Nothing is wired
// until Init runs.
func New(cfg *config.Config, deps Deps) *Facade {
	if cfg == nil {
		cfg = config.Default()
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Facade{cfg: cfg, deps: deps, log: log}
}

// Init wires every kernel component in dependency order (Connector
// and Finding Store are supplied by the caller, everything from the
// Rule Engine up is constructed here),
// registers the built-in catalog, and starts the auto-remediation
// subscriber when configured. Init is idempotent: a second and
// subsequent call returns nil immediately without re-wiring anything.
func (f *Facade) Init() error {
	var initErr error
	f.initOnce.Do(func() {
		if f.deps.Findings == nil {
			initErr = kerrors.New(kerrors.ErrorTypeInvalidInput, "kernel: Deps.Findings is required")
			return
		}

		f.bus = eventbus.NewSized(metricsDropRecorder{}, f.cfg.EventBus.SubscriberBufferSize)
		f.registry = registry.New()
		f.rules = ruleengine.New(f.log)

		f.snaps = snapshot.New(f.deps.Capturer, f.cfg.Remediation.SnapshotTTL.Duration()).WithBus(f.bus)

		f.orch = orchestrator.New(orchestrator.Config{
			MaxConcurrentScans: f.cfg.Diagnostics.MaxConcurrentScans,
			QueueSize:          f.cfg.Diagnostics.ScanQueueSize,
			ScanTimeout:        f.cfg.Diagnostics.ScanTimeout.Duration(),
			FindingCap:         f.cfg.Diagnostics.FindingCap,
		}, f.registry, f.deps.Findings, f.bus, f.log, f.deps.VersionOf)

		f.remed = remediation.New(remediation.Config{
			RequireApproval:  f.cfg.Remediation.RequireApproval,
			PoolSize:         f.cfg.Remediation.PoolSize,
			MaxRetries:       f.cfg.Remediation.MaxRetries,
			RetryBaseDelay:   f.cfg.Remediation.RetryBaseDelay.Duration(),
			RetryMaxDelay:    f.cfg.Remediation.RetryMaxDelay.Duration(),
			MinActionTimeout: f.cfg.Remediation.MinActionTimeout.Duration(),
			MaxActionTimeout: f.cfg.Remediation.MaxActionTimeout.Duration(),
			SnapshotTTL:      f.cfg.Remediation.SnapshotTTL.Duration(),
		}, f.rules, f.deps.Findings, f.snaps, f.bus, f.log, f.deps.State)

		if !f.deps.SkipBuiltins && f.deps.Connector != nil {
			if err := builtin.Register(f.registry, f.remed, f.deps.Connector, f.rules, f.cfg.Diagnostics.BatchSize); err != nil {
				initErr = kerrors.Wrap(err, kerrors.ErrorTypeInvalidInput, "registering built-in catalog")
				return
			}
		}

		if f.cfg.Remediation.EnableAutoRemediation {
			f.startAutoRemediation()
		}

		f.ready = true
		f.log.Info("kernel facade initialized")
	})
	return initErr
}

// Shutdown stops the Facade's background work (the auto-remediation
// subscriber). The wired components themselves hold no goroutines of
// their own beyond in-flight scans, which drain through their own
// deadlines.
func (f *Facade) Shutdown() {
	if f.autoStop != nil {
		f.autoStop()
		<-f.autoDone
		f.autoStop = nil
	}
}

// startAutoRemediation subscribes to remediation.available and
// executes the referenced actions. When enableAutoRemediation is
// false the events are still published but nothing here runs.
// Approval gating still applies:
// an auto-picked action that requires approval parks pending like any
// other.
func (f *Facade) startAutoRemediation() {
	events, unsub := f.bus.Subscribe(eventbus.TopicRemediationAvailable)
	f.autoDone = make(chan struct{})
	stop := make(chan struct{})
	f.autoStop = func() {
		unsub()
		close(stop)
	}

	go func() {
		defer close(f.autoDone)
		for {
			select {
			case <-stop:
				return
			case e := <-events:
				f.autoRemediate(e)
			}
		}
	}()
}

func (f *Facade) autoRemediate(e eventbus.Event) {
	log := f.log.WithFields(logging.NewFields().FindingID(e.FindingID).ToLogrus())

	key, err := diagtypes.ParseFindingKey(e.FindingID)
	if err != nil {
		log.WithError(err).Warn("auto-remediation skipped: unparseable finding id")
		return
	}
	finding, ok, err := f.deps.Findings.Get(context.Background(), key)
	if err != nil || !ok {
		log.Warn("auto-remediation skipped: finding not found")
		return
	}
	rule, ok := f.registry.Rule(key.RuleID)
	if !ok || !rule.AutoRemediate {
		return
	}

	for _, ref := range rule.Actions {
		action, ok := f.registry.Action(ref.ActionID)
		if !ok {
			log.Warnf("auto-remediation skipped: action %s not cataloged", ref.ActionID)
			continue
		}
		attempt, err := f.remed.Execute(context.Background(), action, finding, remediation.ExecuteOptions{ExecutedBy: "auto-remediation"})
		if err != nil {
			log.WithError(err).Warn("auto-remediation attempt failed")
			continue
		}
		if attempt.Status == diagtypes.AttemptCompleted {
			return
		}
	}
}

func (f *Facade) mustBeReady() error {
	if !f.ready {
		return kerrors.New(kerrors.ErrorTypeInvalidInput, "kernel: Init must be called before use")
	}
	return nil
}

// RegisterRule adds a DiagnosticRule to the Registry,
// usable for both built-ins registered at construction and plugins
// registered later.
func (f *Facade) RegisterRule(rule *diagtypes.DiagnosticRule) error {
	return f.registry.RegisterRule(rule)
}

// RegisterScanner adds a Scanner to the Registry.
func (f *Facade) RegisterScanner(s scanner.Scanner) error {
	return f.registry.RegisterScanner(s)
}

// RegisterAction catalogs a RemediationAction.
func (f *Facade) RegisterAction(action *diagtypes.RemediationAction) error {
	return f.registry.RegisterAction(action)
}

// RegisterActionHandler binds a remediation operation name to the
// function that performs it.
func (f *Facade) RegisterActionHandler(operation string, handler remediation.ActionHandler) {
	f.remed.RegisterHandler(operation, handler)
}

// Subscribe exposes the Event Bus to subscribers; the
// returned cancel func unsubscribes.
func (f *Facade) Subscribe(topic eventbus.Topic) (<-chan eventbus.Event, func()) {
	return f.bus.Subscribe(topic)
}

// RunDiagnostics is the single entrypoint a caller uses to kick off a scan. It delegates
// to the Scan Orchestrator once the Facade is ready.
func (f *Facade) RunDiagnostics(ctx context.Context, systemID string, opts diagtypes.ScanOptions) (*diagtypes.Scan, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return f.orch.CreateScan(ctx, systemID, opts)
}

// CancelDiagnostics cancels a running or pending scan.
func (f *Facade) CancelDiagnostics(scanID string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	return f.orch.CancelScan(scanID)
}

// GetScan returns a scan snapshot by id.
func (f *Facade) GetScan(scanID string) (*diagtypes.Scan, bool) {
	return f.orch.GetScan(scanID)
}

// ListScans lists scans matching filter.
func (f *Facade) ListScans(filter orchestrator.ListFilter) []*diagtypes.Scan {
	return f.orch.ListScans(filter)
}

// ListOpenFindings returns a system's unresolved findings through the
// wired Finding Store.
func (f *Facade) ListOpenFindings(ctx context.Context, systemID string, filter findingstore.Filter) ([]*diagtypes.Finding, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return f.deps.Findings.ListOpen(ctx, systemID, filter)
}

// ResolveFinding closes a finding by identity key on an operator's
// behalf, outside any remediation attempt.
func (f *Facade) ResolveFinding(ctx context.Context, key diagtypes.FindingKey, by string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	if err := f.deps.Findings.MarkResolved(ctx, key, by); err != nil {
		return err
	}
	f.bus.Publish(eventbus.Event{Type: eventbus.TopicFindingResolved, SystemID: key.SystemID, FindingID: key.String()})
	return nil
}

// AcknowledgeFinding flags a finding as seen without closing it.
func (f *Facade) AcknowledgeFinding(ctx context.Context, key diagtypes.FindingKey, by string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	return f.deps.Findings.Acknowledge(ctx, key, by)
}

// MarkFalsePositive flags a finding false-positive, which also clears
// its remediable flag.
func (f *Facade) MarkFalsePositive(ctx context.Context, key diagtypes.FindingKey, by string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	return f.deps.Findings.MarkFalsePositive(ctx, key, by)
}

// Remediate is the single entrypoint for executing a remediation action. The global
// requireApproval policy is enforced inside the Remediation Engine, so
// manual and automatic callers share identical gating.
func (f *Facade) Remediate(ctx context.Context, finding *diagtypes.Finding, action *diagtypes.RemediationAction, opts remediation.ExecuteOptions) (*diagtypes.RemediationAttempt, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return f.remed.Execute(ctx, action, finding, opts)
}

// ApproveRemediation is the external pending -> approved transition
// for an attempt parked by approval gating.
func (f *Facade) ApproveRemediation(ctx context.Context, attemptID, approvedBy string) (*diagtypes.RemediationAttempt, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return f.remed.Approve(ctx, attemptID, approvedBy)
}

// DenyRemediation terminates a parked attempt without executing it.
func (f *Facade) DenyRemediation(attemptID, deniedBy string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	return f.remed.Deny(attemptID, deniedBy)
}

// ValidateRemediation checks an action against a finding without
// mutating anything.
func (f *Facade) ValidateRemediation(ctx context.Context, finding *diagtypes.Finding, action *diagtypes.RemediationAction) (*remediation.ValidationResult, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return f.remed.Validate(ctx, finding, action)
}

// RollbackRemediation rolls back a prior completed, successful
// attempt by id.
func (f *Facade) RollbackRemediation(ctx context.Context, attemptID string) error {
	if err := f.mustBeReady(); err != nil {
		return err
	}
	return f.remed.Rollback(ctx, attemptID)
}

// GetDiagnosticEngine is the extension point onto the Scan
// Orchestrator, for callers that need lower-level access than
// RunDiagnostics/GetScan/ListScans provide.
func (f *Facade) GetDiagnosticEngine() *orchestrator.Orchestrator {
	return f.orch
}

// GetRemediationEngine is the extension point onto the Remediation
// Engine.
func (f *Facade) GetRemediationEngine() *remediation.Engine {
	return f.remed
}

// GetRegistry is an extension point for plugin loaders.
func (f *Facade) GetRegistry() *registry.Registry {
	return f.registry
}

// ExpireSnapshots runs the Snapshot Manager's TTL sweep;
// callers typically drive this from a periodic external scheduler.
func (f *Facade) ExpireSnapshots(now time.Time) int {
	return f.snaps.Expire(now)
}

// NewScheduler builds a scan scheduler over systems, bound to this
// Facade's Registry and scan path, so rules carrying a Schedule recur
// without the caller re-wiring anything. The caller owns Start/Stop.
func (f *Facade) NewScheduler(systems []string, resolution time.Duration) (*scheduler.Scheduler, error) {
	if err := f.mustBeReady(); err != nil {
		return nil, err
	}
	return scheduler.New(f.registry, f.orch.CreateScan, systems, resolution, f.log), nil
}
