// Package component defines the lifecycle contract shared by the service's
// long-running parts: setup without a context, start with one, stop with a
// bounded grace period.
package component

import (
	"context"
	"time"
)

// State is a component's position in its lifecycle
type State int

const (
	// StateCreated means the component exists but has not initialized
	StateCreated State = iota
	// StateInitialized means setup completed, not yet running
	StateInitialized
	// StateStarted means the component is running
	StateStarted
	// StateStopped means the component shut down cleanly
	StateStopped
	// StateFailed means a lifecycle step failed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle is implemented by every managed component:
//   - Initialize() error                  setup/create only, no context
//   - Start(ctx context.Context) error    begin work, ctx bounds the run
//   - Stop(timeout time.Duration) error   graceful shutdown within timeout
type Lifecycle interface {
	Name() string
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
