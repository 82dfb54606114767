// Package connector defines the narrow capability set scanners and the
// Remediation Engine use to talk to an externally-administered CM
// installation. Dialect translation, authentication, and
// transport live entirely outside this module; implementations of
// this interface are the only thing that needs to change per CM
// product and version.
package connector

import (
	"context"
	"errors"
	"time"
)

// Query carries a language-agnostic query document. Dialect
// translation into the target CM's native query language happens
// inside the Connector implementation, never here.
type Query struct {
	Category  string
	Statement string
	Params    map[string]interface{}
}

// Row is one extracted record, keyed by field name.
type Row map[string]interface{}

// HealthStatus is the result of a Connector health probe.
type HealthStatus struct {
	Status       string // "healthy", "degraded", "unhealthy"
	ResponseTime time.Duration
	Details      map[string]interface{}
}

// Connector is the kernel's sole capability surface onto an external
// CM system. It must be safe for concurrent reads; writes
// are serialized by the Remediation Engine's per-finding lease.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) (HealthStatus, error)
	ExecuteQuery(ctx context.Context, q Query) ([]Row, error)
}

// Error reports a Connector failure, distinguishing transient
// conditions (timeout, reset; worth retrying) from permanent ones
// (auth failure, missing schema).
type Error struct {
	Transient bool
	Op        string
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return "connector " + kind + " error during " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable Connector error.
func NewTransient(op string, err error) *Error {
	return &Error{Transient: true, Op: op, Err: err}
}

// NewPermanent wraps err as a non-retryable Connector error.
func NewPermanent(op string, err error) *Error {
	return &Error{Transient: false, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable Connector error.
func IsTransient(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}
