// Package notifier broadcasts commit events so downstream subsystems stay
// eventually consistent. Events are fire-and-forget: they are independent
// of the RPC reply, and a publish failure never surfaces to the caller.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/metric"
)

// Event is the broadcast payload carrying the full committed batch, the
// owning scope and the caller's per-key access-policy specifiers, so
// subscribers can enforce the policies the caller attached at registration
type Event struct {
	Operation         message.OperationType                    `json:"operation"`
	Kind              message.EntityKind                       `json:"kind"`
	ScopeID           string                                   `json:"scopeId"`
	Entities          message.KeyedBatch                       `json:"entities"`
	FilteringPolicies map[string]message.AccessPolicySpecifier `json:"filteringPolicies,omitempty"`
	Timestamp         time.Time                                `json:"timestamp"`
}

// Notifier publishes commit events to the fanout subjects
type Notifier struct {
	conn    *nats.Conn
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Notifier
type Option func(*Notifier)

// WithRateLimit caps event publication at eventsPerSecond with the given
// burst. A commit that exceeds the budget waits rather than drops.
func WithRateLimit(eventsPerSecond float64, burst int) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	}
}

// WithLogger sets the notifier logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics wires the fanout failure counter
func WithMetrics(m *metric.Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// New creates a Notifier over an established connection
func New(conn *nats.Conn, opts ...Option) *Notifier {
	n := &Notifier{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(100), 200),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// EventSubject names the fanout subject for a kind and operation
func EventSubject(kind message.EntityKind, op message.OperationType) string {
	var suffix string
	switch op {
	case message.OpCreation:
		suffix = "created"
	case message.OpModification:
		suffix = "modified"
	case message.OpRemoval:
		suffix = "removed"
	default:
		suffix = string(op)
	}
	return fmt.Sprintf("registry.events.%s.%s", kind, suffix)
}

// Notify broadcasts the committed batch. Failures are logged and counted,
// never returned to the workflow: by the time Notify runs the terminal
// reply has already been decided.
func (n *Notifier) Notify(ctx context.Context, kind message.EntityKind, op message.OperationType, scopeID string, committed message.KeyedBatch, policies map[string]message.AccessPolicySpecifier) {
	if len(committed) == 0 {
		return
	}

	event := Event{
		Operation:         op,
		Kind:              kind,
		ScopeID:           scopeID,
		Entities:          committed,
		FilteringPolicies: policies,
		Timestamp:         time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.fail(kind, op, "encode event", err)
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		n.fail(kind, op, "rate limit wait", err)
		return
	}

	subject := EventSubject(kind, op)
	if err := n.conn.Publish(subject, payload); err != nil {
		n.fail(kind, op, "publish event", err)
		return
	}

	n.logger.Debug("Broadcast commit event",
		"subject", subject,
		"scope_id", scopeID,
		"entities", len(committed))
}

func (n *Notifier) fail(kind message.EntityKind, op message.OperationType, action string, err error) {
	n.logger.Error("Fanout notification failed",
		"kind", kind,
		"operation", op,
		"action", action,
		"error", err)
	if n.metrics != nil {
		n.metrics.FanoutFailuresTotal.Inc()
	}
}
