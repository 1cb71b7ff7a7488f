// Package rpc implements the correlation gateway: request/reply over the
// broker with private single-use reply destinations, correlation ids, and
// continuations registered against them. Logical control flow suspends
// between "request published" and "reply arrived" without holding a thread.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/metric"
)

// HeaderCorrelationID is the message header carrying the correlation id.
// Replies echo it unmodified.
const HeaderCorrelationID = "Correlation-Id"

// HeaderReplyTo carries the caller's reply destination on inbound stream
// deliveries, where the NATS reply subject is taken by the ack protocol
const HeaderReplyTo = "Reply-To"

// DefaultCallTimeout bounds how long a continuation waits for its reply
// before the gateway synthesizes a timeout
const DefaultCallTimeout = 30 * time.Second

// Gateway owns the RPC side of the broker connection
type Gateway struct {
	conn    *nats.Conn
	pending *pendingTable
	timeout time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Gateway
type Option func(*Gateway)

// WithCallTimeout sets the reply deadline for outbound calls
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the gateway logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics wires the core workflow metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a correlation gateway over an established connection
func NewGateway(conn *nats.Conn, opts ...Option) *Gateway {
	g := &Gateway{
		conn:    conn,
		pending: newPendingTable(),
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Pending returns the number of continuations awaiting a reply
func (g *Gateway) Pending() int {
	return g.pending.size()
}

// Call publishes payload to subject as an RPC request: it declares a
// private reply inbox, generates a fresh correlation id, attaches a
// one-shot reply handler bound to that inbox, and registers cont against
// the correlation id. The continuation is resumed by the reply or,
// failing that, by the eviction timer. Returns the correlation id.
func (g *Gateway) Call(ctx context.Context, subject string, payload []byte, cont Continuation) (string, error) {
	if g.conn == nil || !g.conn.IsConnected() {
		return "", errors.ErrNoConnection
	}

	correlationID := uuid.New().String()
	inbox := nats.NewInbox()

	sub, err := g.conn.Subscribe(inbox, func(msg *nats.Msg) {
		g.dispatch(ctx, msg)
	})
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Gateway", "Call", "subscribe reply inbox")
	}
	// A private inbox receives at most one message from at most one peer
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Gateway", "Call", "limit inbox subscription")
	}

	call := &pendingCall{
		correlationID: correlationID,
		inbox:         inbox,
		continuation:  cont,
		sub:           sub,
		issuedAt:      time.Now(),
	}
	if err := g.pending.register(call); err != nil {
		_ = sub.Unsubscribe()
		return "", errors.Wrap(err, "Gateway", "Call", "register continuation")
	}
	call.timer = time.AfterFunc(g.timeout, func() {
		g.evict(ctx, correlationID)
	})

	msg := &nats.Msg{
		Subject: subject,
		Reply:   inbox,
		Header:  nats.Header{HeaderCorrelationID: []string{correlationID}},
		Data:    payload,
	}
	if err := g.conn.PublishMsg(msg); err != nil {
		// Nothing was delivered; withdraw the continuation so the timer
		// cannot fire a spurious timeout later
		if withdrawn, consumeErr := g.pending.consume(correlationID); consumeErr == nil {
			withdrawn.timer.Stop()
			_ = withdrawn.sub.Unsubscribe()
		}
		return "", errors.WrapTransient(err, "Gateway", "Call", "publish request")
	}

	if g.metrics != nil {
		g.metrics.PendingContinuations.Set(float64(g.pending.size()))
	}

	g.logger.Debug("Issued RPC call",
		"subject", subject,
		"correlation_id", correlationID,
		"inbox", inbox)

	return correlationID, nil
}

// Reply publishes payload to the caller's reply destination tagged with the
// caller's correlation id, then positively acknowledges the inbound
// delivery via ack. Every inbound request reaches this exactly once, error
// paths included.
func (g *Gateway) Reply(replyTo, correlationID string, payload []byte, ack func() error) error {
	if g.conn == nil || !g.conn.IsConnected() {
		return errors.ErrNoConnection
	}
	if replyTo == "" {
		return errors.WrapInvalid(
			fmt.Errorf("request carries no reply destination"),
			"Gateway", "Reply", "resolve reply destination")
	}

	msg := &nats.Msg{
		Subject: replyTo,
		Header:  nats.Header{HeaderCorrelationID: []string{correlationID}},
		Data:    payload,
	}
	if err := g.conn.PublishMsg(msg); err != nil {
		// Leave the delivery unacked so the broker redelivers it
		return errors.WrapTransient(err, "Gateway", "Reply", "publish reply")
	}

	if ack != nil {
		if err := ack(); err != nil {
			return errors.WrapTransient(err, "Gateway", "Reply", "acknowledge delivery")
		}
	}

	g.logger.Debug("Replied", "reply_to", replyTo, "correlation_id", correlationID)
	return nil
}

// dispatch routes a message arriving on a private inbox to the continuation
// that issued the matching correlation id. A mismatch is logged and the
// message dropped, never retried.
func (g *Gateway) dispatch(ctx context.Context, msg *nats.Msg) {
	correlationID := msg.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		g.logger.Warn("Dropping reply without correlation id", "subject", msg.Subject)
		return
	}

	call, err := g.pending.consume(correlationID)
	if err != nil {
		g.logger.Warn("Dropping reply with no pending continuation",
			"subject", msg.Subject,
			"correlation_id", correlationID,
			"error", err)
		return
	}

	call.timer.Stop()
	if call.sub != nil {
		_ = call.sub.Unsubscribe()
	}

	if g.metrics != nil {
		g.metrics.PendingContinuations.Set(float64(g.pending.size()))
		g.metrics.RPCLatency.Observe(time.Since(call.issuedAt).Seconds())
	}

	call.continuation.OnReply(ctx, msg.Data)
}

// evict removes a continuation whose reply never arrived and resumes it on
// the timeout path so the original caller still gets an answer
func (g *Gateway) evict(ctx context.Context, correlationID string) {
	call, err := g.pending.consume(correlationID)
	if err != nil {
		return // reply won the race
	}

	if call.sub != nil {
		_ = call.sub.Unsubscribe()
	}

	if g.metrics != nil {
		g.metrics.PendingContinuations.Set(float64(g.pending.size()))
	}

	g.logger.Warn("Evicting continuation after timeout",
		"correlation_id", correlationID,
		"inbox", call.inbox,
		"waited", time.Since(call.issuedAt).String())

	call.continuation.OnTimeout(ctx)
}
