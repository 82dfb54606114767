// Package orchestrator implements the Scan Orchestrator:
// the heart of the kernel. It owns scan lifecycle, resolves rules and
// scanners through the Registry, dispatches scanner tasks with a
// bounded worker pool, aggregates results, and persists findings.
package orchestrator

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore"
	"github.com/CloudXploit/appcm-diagkernel/pkg/metrics"
	"github.com/CloudXploit/appcm-diagkernel/pkg/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config tunes the Orchestrator's concurrency and timeout behavior.
type Config struct {
	MaxConcurrentScans int           // default small, e.g. 4
	QueueSize          int           // bounded FIFO beyond the running set; 0 queue capacity accepts only MaxConcurrentScans in flight
	ScanTimeout        time.Duration // default 1h
	FindingCap         int           // per-scan finding budget; exceeding it fails the scan with RESOURCE_EXHAUSTED
}

// ListFilter narrows ListScans.
type ListFilter struct {
	SystemID string
	Status   diagtypes.ScanStatus // zero value means "any status"
}

// Orchestrator is the Scan Orchestrator.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	store    findingstore.Store
	bus      *eventbus.Bus
	log      logrus.FieldLogger

	// runningSem bounds scans actually executing to MaxConcurrentScans.
	// queueSem bounds total in-flight+queued scans to
	// MaxConcurrentScans+QueueSize; CreateScan fails with BACKPRESSURE
	// when queueSem has no room, and a permit is released only once the
	// scan reaches a terminal state.
	runningSem *semaphore.Weighted
	queueSem   *semaphore.Weighted

	mu      sync.Mutex
	scans   map[string]*diagtypes.Scan
	cancels map[string]context.CancelFunc

	versionOf SystemVersionResolver
	// previousFindings lets a rescan coalesce against the last known
	// open findings per system, mirroring what a real Finding Store
	// lookup would return.
	previousFindings func(ctx context.Context, systemID string) (map[diagtypes.FindingKey]*diagtypes.Finding, error)
}

// SystemVersionResolver supplies the target CM version a scan runs
// against, so rule/scanner version-compatibility filtering has
// something to filter by.
type SystemVersionResolver func(ctx context.Context, systemID string) (string, error)

// New constructs an Orchestrator. versionOf resolves a systemId to
// its CM version for rule-compatibility filtering.
func New(cfg Config, reg *registry.Registry, store findingstore.Store, bus *eventbus.Bus, log logrus.FieldLogger, versionOf SystemVersionResolver) *Orchestrator {
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = 4
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = time.Hour
	}
	if cfg.FindingCap <= 0 {
		cfg.FindingCap = 100000
	}
	o := &Orchestrator{
		cfg:        cfg,
		registry:   reg,
		store:      store,
		bus:        bus,
		log:        log,
		runningSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentScans)),
		queueSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentScans + cfg.QueueSize)),
		scans:      map[string]*diagtypes.Scan{},
		cancels:    map[string]context.CancelFunc{},
		versionOf:  versionOf,
	}
	o.previousFindings = func(ctx context.Context, systemID string) (map[diagtypes.FindingKey]*diagtypes.Finding, error) {
		open, err := store.ListOpen(ctx, systemID, findingstore.Filter{})
		if err != nil {
			return nil, err
		}
		out := make(map[diagtypes.FindingKey]*diagtypes.Finding, len(open))
		for _, f := range open {
			out[f.Key] = f
		}
		return out, nil
	}
	return o
}

// CreateScan validates opts, records the scan as pending, and
// enqueues it. If the running set is
// full and the bounded queue has no room, it fails with BACKPRESSURE
// rather than blocking.
func (o *Orchestrator) CreateScan(ctx context.Context, systemID string, opts diagtypes.ScanOptions) (*diagtypes.Scan, error) {
	if systemID == "" {
		return nil, kerrors.New(kerrors.ErrorTypeInvalidInput, "systemId is required")
	}
	for _, id := range opts.RuleIDs {
		if _, ok := o.registry.Rule(id); !ok {
			return nil, kerrors.Newf(kerrors.ErrorTypeInvalidInput, "unknown rule id %q", id)
		}
	}

	if !o.queueSem.TryAcquire(1) {
		return nil, kerrors.New(kerrors.ErrorTypeBackpressure, "scan queue is full")
	}

	scan := diagtypes.NewScan(uuid.NewString(), systemID, opts)

	o.mu.Lock()
	o.scans[scan.ID] = scan
	o.mu.Unlock()

	execCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ScanTimeout)
	o.mu.Lock()
	o.cancels[scan.ID] = cancel
	o.mu.Unlock()

	metrics.RecordScanStarted()
	go o.run(execCtx, cancel, scan)

	return scan, nil
}

// CancelScan is idempotent: transitions pending|running -> cancelled.
// A terminal scan is left untouched rather than erroring, matching
// the cancel operation's idempotency contract.
func (o *Orchestrator) CancelScan(scanID string) error {
	o.mu.Lock()
	scan, ok := o.scans[scanID]
	cancel := o.cancels[scanID]
	o.mu.Unlock()

	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeInvalidInput, "scan %s not found", scanID)
	}
	if scan.Status.IsTerminal() {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// GetScan returns a scan snapshot by id.
func (o *Orchestrator) GetScan(scanID string) (*diagtypes.Scan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.scans[scanID]
	return s, ok
}

// ListScans returns scans matching filter.
func (o *Orchestrator) ListScans(filter ListFilter) []*diagtypes.Scan {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*diagtypes.Scan
	for _, s := range o.scans {
		if filter.SystemID != "" && s.SystemID != filter.SystemID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out
}
