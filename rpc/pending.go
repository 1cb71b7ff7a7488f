package rpc

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// pendingCall is one registered continuation awaiting its single reply
type pendingCall struct {
	correlationID string
	inbox         string
	continuation  Continuation
	sub           *nats.Subscription
	timer         *time.Timer
	issuedAt      time.Time
}

// pendingTable is the concurrent map of continuations keyed by correlation
// id. Each entry is consumed exactly once, by the matching reply or by the
// eviction timer, whichever comes first.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// register stores a call; a duplicate correlation id is an error
func (t *pendingTable) register(call *pendingCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[call.correlationID]; exists {
		return errors.ErrAlreadyConsumed
	}
	t.calls[call.correlationID] = call
	return nil
}

// consume removes and returns the call for a correlation id. An unknown id
// (already consumed, evicted, or never issued) returns ErrNoPendingCall.
func (t *pendingTable) consume(correlationID string) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[correlationID]
	if !ok {
		return nil, errors.ErrNoPendingCall
	}
	delete(t.calls, correlationID)
	return call, nil
}

// size returns the number of unconsumed continuations
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
