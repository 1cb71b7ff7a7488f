package rpc

import "context"

// Continuation reifies "what to do when the asynchronous reply arrives":
// the registered callback consumes exactly one reply, or a timeout if the
// private reply destination never receives its message. Implementations
// capture the workflow context needed to resume (original reply target,
// operation type, keyed batch, policies).
type Continuation interface {
	// OnReply is invoked with the raw reply payload, exactly once
	OnReply(ctx context.Context, data []byte)

	// OnTimeout is invoked when no reply arrived before the deadline,
	// instead of OnReply. The implementation must still answer the
	// original caller so no request is left unanswered.
	OnTimeout(ctx context.Context)
}

// ContinuationFuncs adapts plain functions to the Continuation interface
type ContinuationFuncs struct {
	Reply   func(ctx context.Context, data []byte)
	Timeout func(ctx context.Context)
}

// OnReply implements Continuation
func (c ContinuationFuncs) OnReply(ctx context.Context, data []byte) {
	if c.Reply != nil {
		c.Reply(ctx, data)
	}
}

// OnTimeout implements Continuation
func (c ContinuationFuncs) OnTimeout(ctx context.Context) {
	if c.Timeout != nil {
		c.Timeout(ctx)
	}
}
