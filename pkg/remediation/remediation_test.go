package remediation

import (
	"context"
	"sync"
	"time"

	kerrors "github.com/CloudXploit/appcm-diagkernel/internal/errors"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore/memstore"
	"github.com/CloudXploit/appcm-diagkernel/pkg/ruleengine"
	"github.com/CloudXploit/appcm-diagkernel/pkg/snapshot"
	"github.com/CloudXploit/appcm-diagkernel/pkg/value"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

// fakeCapturer is an in-memory snapshot.Capturer test double.
type fakeCapturer struct {
	mu    sync.Mutex
	state map[string][]byte
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{state: map[string][]byte{}}
}

func (c *fakeCapturer) Capture(ctx context.Context, scope diagtypes.SnapshotScope) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.state[scope.ComponentPath]...), nil
}

func (c *fakeCapturer) Restore(ctx context.Context, scope diagtypes.SnapshotScope, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[scope.ComponentPath] = append([]byte(nil), payload...)
	return nil
}

func testFinding(component string) *diagtypes.Finding {
	key := diagtypes.FindingKey{SystemID: "sys-1", RuleID: "R1", Component: component, ResourcePath: "/res/1"}
	f := diagtypes.NewFinding(key, diagtypes.SeverityHigh, diagtypes.Evidence{}, time.Now())
	f.Remediable = true
	return f
}

func testAction(id string, requiresApproval bool) *diagtypes.RemediationAction {
	return &diagtypes.RemediationAction{
		ID:                id,
		Kind:              diagtypes.ActionAutomatic,
		Operation:         "fix-it",
		Risk:              diagtypes.RiskLow,
		RequiresApproval:  requiresApproval,
		EstimatedDuration: time.Second,
		CanRollback:       true,
	}
}

var _ = Describe("Remediation Engine", func() {
	var (
		eng      *Engine
		store    *memstore.Store
		bus      *eventbus.Bus
		capturer *fakeCapturer
		ctx      context.Context
		stateVal map[string]value.Value
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memstore.New()
		bus = eventbus.New(nil)
		capturer = newFakeCapturer()
		snapMgr := snapshot.New(capturer, time.Hour).WithBus(bus)
		stateVal = map[string]value.Value{"healthy": value.Bool(true)}

		log := logrus.New()
		log.SetOutput(GinkgoWriter)

		eng = New(Config{}, ruleengine.New(nil), store, snapMgr, bus, log, func(ctx context.Context, key diagtypes.FindingKey) (map[string]value.Value, error) {
			return stateVal, nil
		})
	})

	It("parks an approval-required attempt pending and requests approval", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", true)
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		requested, unsub := bus.Subscribe(eventbus.TopicRemediationApprovalRequested)
		defer unsub()

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptPending))
		Eventually(requested).Should(Receive())

		// the parked attempt holds the finding's lease
		_, err = eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).To(HaveOccurred())
		Expect(kerrors.GetType(err)).To(Equal(kerrors.ErrorTypeBackpressure))
	})

	It("resumes a parked attempt when approved, idempotently", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", true)
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptPending))

		approved, err := eng.Approve(ctx, attempt.ID, "operator")
		Expect(err).NotTo(HaveOccurred())
		Expect(approved.Status).To(Equal(diagtypes.AttemptCompleted))
		Expect(approved.ApprovedBy).To(Equal("operator"))

		// a second approval of the same attempt is a no-op
		again, err := eng.Approve(ctx, attempt.ID, "someone-else")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Status).To(Equal(diagtypes.AttemptCompleted))
		Expect(again.ApprovedBy).To(Equal("operator"))
	})

	It("denies a parked attempt and releases the finding's lease", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", true)
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.Deny(attempt.ID, "operator")).To(Succeed())

		got, _ := eng.GetAttempt(attempt.ID)
		Expect(got.Status).To(Equal(diagtypes.AttemptFailed))

		// the lease is free again: a new attempt can start
		next, err := eng.Execute(ctx, action, f, ExecuteOptions{ApprovedBy: "operator"})
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Status).To(Equal(diagtypes.AttemptCompleted))
	})

	It("applies the global approval policy to actions that do not require it themselves", func() {
		strict := New(Config{RequireApproval: true}, ruleengine.New(nil), store, snapshot.New(capturer, time.Hour), bus, logrus.New(), nil)
		f := testFinding("configuration")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A2", false)
		strict.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		attempt, err := strict.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptPending))
	})

	It("serializes concurrent attempts against the same finding", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)

		started := make(chan struct{})
		release := make(chan struct{})
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			close(started)
			<-release
			return map[string]interface{}{"healthy": true}, nil
		})

		errCh := make(chan error, 1)
		go func() {
			_, err := eng.Execute(ctx, action, f, ExecuteOptions{})
			errCh <- err
		}()

		Eventually(started).Should(BeClosed())

		_, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).To(HaveOccurred())
		Expect(kerrors.GetType(err)).To(Equal(kerrors.ErrorTypeBackpressure))

		close(release)
		Expect(<-errCh).NotTo(HaveOccurred())
	})

	It("executes successfully, verifies post-conditions, and resolves the finding", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)
		cond := diagtypes.SeverityHigh
		action.PostConditions = []diagtypes.GuardExpression{{FieldPath: "healthy", Operator: diagtypes.OpEq, Value: true, SeverityOverride: &cond}}

		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		completed, unsub := bus.Subscribe(eventbus.TopicRemediationCompleted)
		defer unsub()

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{ExecutedBy: "operator"})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptCompleted))
		Expect(attempt.Success).To(BeTrue())
		Eventually(completed).Should(Receive())

		got, ok, _ := store.Get(ctx, f.Key)
		Expect(ok).To(BeTrue())
		Expect(got.Resolved).To(BeTrue())
	})

	It("rolls back automatically when a post-condition fails", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)
		action.PostConditions = []diagtypes.GuardExpression{{FieldPath: "healthy", Operator: diagtypes.OpEq, Value: false}}

		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		rolledBack, unsub := bus.Subscribe(eventbus.TopicRemediationRolledBack)
		defer unsub()

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{ExecutedBy: "operator"})
		Expect(err).To(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptRolledBack))
		Eventually(rolledBack).Should(Receive())

		got, _, _ := store.Get(ctx, f.Key)
		Expect(got.Resolved).To(BeFalse(), "a rolled-back attempt leaves the finding open")
	})

	// the failure is announced before the restore, so subscribers
	// observe remediation.failed then snapshot.restored.
	It("emits remediation.failed before snapshot.restored on automatic rollback", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)
		action.PostConditions = []diagtypes.GuardExpression{{FieldPath: "healthy", Operator: diagtypes.OpEq, Value: false}}

		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		failed, unsubFailed := bus.Subscribe(eventbus.TopicRemediationFailed)
		defer unsubFailed()
		restored, unsubRestored := bus.Subscribe(eventbus.TopicSnapshotRestored)
		defer unsubRestored()

		_, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).To(HaveOccurred())

		var failedEvent, restoredEvent eventbus.Event
		Eventually(failed).Should(Receive(&failedEvent))
		Eventually(restored).Should(Receive(&restoredEvent))
		Expect(failedEvent.Timestamp).To(BeTemporally("<=", restoredEvent.Timestamp))
	})

	It("short-circuits execution on dry-run without invoking the handler", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)

		called := false
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			called = true
			return nil, nil
		})

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{DryRun: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptCompleted))
		Expect(called).To(BeFalse())

		got, _, _ := store.Get(ctx, f.Key)
		Expect(got.Resolved).To(BeFalse())
	})

	It("retries a transient handler failure before succeeding", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)

		attempts := 0
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			attempts++
			if attempts < 2 {
				return nil, kerrors.New(kerrors.ErrorTypeConnectorTransient, "temporary glitch")
			}
			return map[string]interface{}{"healthy": true}, nil
		})

		eng.cfg.RetryBaseDelay = time.Millisecond
		eng.cfg.RetryMaxDelay = 5 * time.Millisecond

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptCompleted))
		Expect(attempts).To(Equal(2))
	})

	It("does not retry a permanent handler failure", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)

		attempts := 0
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			attempts++
			return nil, kerrors.New(kerrors.ErrorTypeConnectorPermanent, "no retrying this")
		})

		_, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).To(HaveOccurred())
		Expect(attempts).To(Equal(1))
	})

	It("lets an operator explicitly roll back a completed attempt", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempt.Status).To(Equal(diagtypes.AttemptCompleted))

		rolledBack, unsub := bus.Subscribe(eventbus.TopicRemediationRolledBack)
		defer unsub()

		Expect(eng.Rollback(ctx, attempt.ID)).To(Succeed())
		Eventually(rolledBack).Should(Receive())

		got, ok := eng.GetAttempt(attempt.ID)
		Expect(ok).To(BeTrue())
		Expect(got.Status).To(Equal(diagtypes.AttemptRolledBack))
	})

	It("pins the snapshot for the attempt's duration and releases it after completion", func() {
		f := testFinding("security")
		Expect(store.Upsert(ctx, f)).To(Succeed())
		action := testAction("A1", false)

		var snapIDDuringExec string
		eng.RegisterHandler("fix-it", func(ctx context.Context, f *diagtypes.Finding, a *diagtypes.RemediationAction) (map[string]interface{}, error) {
			return map[string]interface{}{"healthy": true}, nil
		})

		attempt, err := eng.Execute(ctx, action, f, ExecuteOptions{})
		Expect(err).NotTo(HaveOccurred())
		snapIDDuringExec = attempt.SnapshotID
		Expect(snapIDDuringExec).NotTo(BeEmpty())

		snap, ok := eng.snaps.Get(snapIDDuringExec)
		Expect(ok).To(BeTrue())
		Expect(snap.Pinned()).To(BeFalse())
	})
})
