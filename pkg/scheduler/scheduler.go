// Package scheduler drives recurring diagnostics: rules that declare a
// Schedule get a scan created on their interval, with the scheduled
// trigger kind, through the same orchestrator path a manual scan takes.
package scheduler

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/internal/logging"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/sirupsen/logrus"
)

// defaultResolution is how often the scheduler wakes up to check for
// due rules; per-rule intervals are independent of it.
const defaultResolution = 30 * time.Second

// RuleSource supplies the rules with a declared schedule; pkg/registry
// satisfies it.
type RuleSource interface {
	ScheduledRules() []*diagtypes.DiagnosticRule
}

// CreateScan is the orchestrator entrypoint the scheduler triggers
// scans through.
type CreateScan func(ctx context.Context, systemID string, opts diagtypes.ScanOptions) (*diagtypes.Scan, error)

// ParseSchedule resolves a rule's Schedule string into an interval:
// the symbolic names hourly/daily/weekly, or any Go duration string
// ("30m", "6h").
func ParseSchedule(s string) (time.Duration, error) {
	switch s {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, kerrors.Wrapf(err, kerrors.ErrorTypeInvalidInput, "unparseable schedule %q", s)
	}
	if d <= 0 {
		return 0, kerrors.Newf(kerrors.ErrorTypeInvalidInput, "schedule %q must be a positive interval", s)
	}
	return d, nil
}

// Scheduler ticks at a fixed resolution and creates one scan per due
// (rule, system) pair. A scan rejected with BACKPRESSURE is retried on
// the next tick rather than counted as run.
type Scheduler struct {
	rules      RuleSource
	create     CreateScan
	systems    []string
	resolution time.Duration
	log        logrus.FieldLogger

	mu      sync.Mutex
	lastRun map[string]time.Time // (ruleID, systemID) -> last trigger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler over the given target systems.
// resolution <= 0 uses the default.
func New(rules RuleSource, create CreateScan, systems []string, resolution time.Duration, log logrus.FieldLogger) *Scheduler {
	if resolution <= 0 {
		resolution = defaultResolution
	}
	return &Scheduler{
		rules:      rules,
		create:     create,
		systems:    systems,
		resolution: resolution,
		log:        log,
		lastRun:    map[string]time.Time{},
	}
}

// Start launches the tick loop. A second Start while running is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.resolution)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.Tick(now)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to drain. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Tick runs one scheduling pass as of now: every (scheduled rule,
// system) pair whose interval has elapsed gets a scan. Exported so the
// loop's behavior is testable without real time passing.
func (s *Scheduler) Tick(now time.Time) {
	for _, rule := range s.rules.ScheduledRules() {
		interval, err := ParseSchedule(rule.Schedule)
		if err != nil {
			s.log.WithFields(logging.NewFields().RuleID(rule.ID).Error(err).ToLogrus()).
				Warn("skipping rule with unparseable schedule")
			continue
		}
		for _, systemID := range s.systems {
			s.triggerIfDue(now, rule, systemID, interval)
		}
	}
}

func (s *Scheduler) triggerIfDue(now time.Time, rule *diagtypes.DiagnosticRule, systemID string, interval time.Duration) {
	key := rule.ID + "\x00" + systemID

	s.mu.Lock()
	last, ran := s.lastRun[key]
	s.mu.Unlock()
	if ran && now.Sub(last) < interval {
		return
	}

	_, err := s.create(context.Background(), systemID, diagtypes.ScanOptions{
		RuleIDs:     []string{rule.ID},
		TriggerKind: diagtypes.TriggerScheduled,
		TriggeredBy: "scheduler",
	})
	if err != nil {
		// a saturated orchestrator is retried on the next tick; the
		// last-run marker stays put so the rule remains due.
		s.log.WithFields(logging.NewFields().RuleID(rule.ID).SystemID(systemID).Error(err).ToLogrus()).
			Warn("scheduled scan not created")
		return
	}

	s.mu.Lock()
	s.lastRun[key] = now
	s.mu.Unlock()
}
