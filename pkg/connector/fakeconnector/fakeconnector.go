// Package fakeconnector implements a deterministic, programmable
// connector.Connector for scanner and remediation tests, in the style
// of the fake Kubernetes client test doubles elsewhere in this
// codebase: state is plain Go data the test arranges up front, and
// methods never reach out over the network.
package fakeconnector

import (
	"context"
	"sync"
	"time"

	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
)

// FakeConnector is a connector.Connector backed by an in-memory table
// of query results keyed by category, plus a mutable "live" state map
// that remediation actions can read and write.
type FakeConnector struct {
	mu sync.Mutex

	connected bool
	health    connector.HealthStatus

	// Results maps a Query.Category to the rows ExecuteQuery returns.
	Results map[string][]connector.Row

	// QueryErrors lets a test inject a transient/permanent failure for
	// a given category, simulating transient and permanent connector
	// failures.
	QueryErrors map[string]error

	// State is the mutable "live system" remediation actions observe
	// and change; it backs both before/after snapshots and postcondition
	// checks in tests.
	State map[string]interface{}

	QueryCount int
}

// New returns a connected fake with a healthy status and empty state.
func New() *FakeConnector {
	return &FakeConnector{
		connected:   true,
		health:      connector.HealthStatus{Status: "healthy", ResponseTime: time.Millisecond},
		Results:     map[string][]connector.Row{},
		QueryErrors: map[string]error{},
		State:       map[string]interface{}{},
	}
}

func (f *FakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *FakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeConnector) HealthCheck(ctx context.Context) (connector.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, nil
}

func (f *FakeConnector) ExecuteQuery(ctx context.Context, q connector.Query) ([]connector.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCount++

	if err, ok := f.QueryErrors[q.Category]; ok {
		return nil, err
	}
	return f.Results[q.Category], nil
}

// SetHealth lets a test simulate a degraded or unhealthy Connector.
func (f *FakeConnector) SetHealth(h connector.HealthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = h
}

// Snapshot returns a deep-enough copy of State for Snapshot Manager tests.
func (f *FakeConnector) Snapshot() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]interface{}, len(f.State))
	for k, v := range f.State {
		out[k] = v
	}
	return out
}

// Restore replaces State wholesale, as a rollback would.
func (f *FakeConnector) Restore(state map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State = state
}

// Apply mutates State, simulating a remediation action taking effect.
func (f *FakeConnector) Apply(key string, val interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.State[key] = val
}
