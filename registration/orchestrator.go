// Package registration implements the per-kind registration workflows: the
// two-hop creation/modification flow through the semantic-validation peer,
// the direct federation and removal paths, and platform data clearing.
// Every inbound delivery ends in exactly one terminal reply.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/symbiote-h2020/Registry-sub000/auth"
	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/metric"
	"github.com/symbiote-h2020/Registry-sub000/rpc"
	"github.com/symbiote-h2020/Registry-sub000/saga"
	"github.com/symbiote-h2020/Registry-sub000/store"
)

// Caller is the outbound RPC surface of the correlation gateway
type Caller interface {
	Call(ctx context.Context, subject string, payload []byte, cont rpc.Continuation) (string, error)
	Reply(replyTo, correlationID string, payload []byte, ack func() error) error
}

// AccessGate authorizes operations and ownership before any write
type AccessGate interface {
	CheckOperationAccess(ctx context.Context, secReq *message.SecurityRequest, scopeID string) auth.Result
	CheckOwnership(ctx context.Context, entities message.KeyedBatch, scopeID string) auth.Result
}

// Broadcaster fans out commit events after the terminal reply is decided.
// Policies are the caller's per-key access-policy specifiers, carried so
// downstream subsystems can enforce them on the committed entities.
type Broadcaster interface {
	Notify(ctx context.Context, kind message.EntityKind, op message.OperationType, scopeID string, committed message.KeyedBatch, policies map[string]message.AccessPolicySpecifier)
}

// Delivery is one inbound request as handed over by the transport layer.
// Ack acknowledges the delivery; the gateway invokes it only after the
// terminal reply has been published.
type Delivery struct {
	ReplyTo       string
	CorrelationID string
	Data          []byte
	Ack           func() error
}

// Orchestrator drives a registration request through authorization,
// semantic validation, bulk persistence and fanout
type Orchestrator struct {
	caller      Caller
	gate        AccessGate
	engine      *saga.Engine
	store       store.DocumentStore
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics wires the request counter
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator assembles the workflow around its collaborators
func NewOrchestrator(
	caller Caller,
	gate AccessGate,
	engine *saga.Engine,
	docStore store.DocumentStore,
	broadcaster Broadcaster,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		caller:      caller,
		gate:        gate,
		engine:      engine,
		store:       docStore,
		broadcaster: broadcaster,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle processes one inbound registration, modification or removal
// request for the given kind. All failure paths still reach the terminal
// reply; a request is never left unanswered by this method.
func (o *Orchestrator) Handle(ctx context.Context, kind message.EntityKind, op message.OperationType, d Delivery) {
	env, err := message.ParseRequestEnvelope(d.Data)
	if err != nil {
		// Echo the description type the caller intended even when the
		// envelope as a whole did not parse
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusBadRequest, "malformed request: "+err.Error(),
			message.ProbeDescriptionType(d.Data)))
		return
	}

	dt := env.DescriptionType
	scopeID := env.ScopeID()

	access := o.gate.CheckOperationAccess(ctx, env.SecurityRequest, scopeID)
	if !access.Validated {
		o.reply(kind, op, d, message.NewErrorResponse(message.StatusBadRequest, access.Message, dt))
		return
	}

	switch {
	case op == message.OpRemoval:
		o.handleRemoval(ctx, kind, scopeID, env, d)
	case kind == message.KindFederation:
		// The peer has no vocabulary for federations
		o.handleDirect(ctx, kind, op, scopeID, env, d)
	default:
		o.handleTwoHop(ctx, kind, op, scopeID, env, d)
	}
}

// handleDirect persists the batch without the validation hop
func (o *Orchestrator) handleDirect(ctx context.Context, kind message.EntityKind, op message.OperationType, scopeID string, env *message.RequestEnvelope, d Delivery) {
	batch, err := decodeBatch(kind, env.Body)
	if err != nil {
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusBadRequest, "malformed body: "+err.Error(), env.DescriptionType))
		return
	}

	report := o.engine.Apply(ctx, kind, batch, op)
	if !report.Committed {
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusServerError, "bulk save failed: "+report.FirstFailure(), env.DescriptionType))
		return
	}

	o.finish(ctx, kind, op, scopeID, env.DescriptionType, batch, batch, env.FilteringPolicies, d)
}

// handleRemoval deletes the batch with pre-image snapshots; a batch where
// some keys are already gone is a partial-removal conflict
func (o *Orchestrator) handleRemoval(ctx context.Context, kind message.EntityKind, scopeID string, env *message.RequestEnvelope, d Delivery) {
	batch, err := decodeBatch(kind, env.Body)
	if err != nil {
		o.reply(kind, message.OpRemoval, d, message.NewErrorResponse(
			message.StatusBadRequest, "malformed body: "+err.Error(), env.DescriptionType))
		return
	}

	report := o.engine.Apply(ctx, kind, batch, message.OpRemoval)
	if !report.Committed {
		status := message.StatusServerError
		if removalConflict(report) {
			status = message.StatusPartialConflict
		}
		o.reply(kind, message.OpRemoval, d, message.NewErrorResponse(
			status, "removal failed: "+report.FirstFailure(), env.DescriptionType))
		return
	}

	// Reply and broadcast carry the full pre-removal entities, not the
	// id stubs the caller sent
	removed := make(message.KeyedBatch, len(report.Results))
	for key, res := range report.Results {
		if res.Entity != nil {
			removed[key] = res.Entity
		}
	}

	o.finish(ctx, kind, message.OpRemoval, scopeID, env.DescriptionType, removed, removed, env.FilteringPolicies, d)
}

// removalConflict reports whether the batch failed only because some keys
// were no longer present
func removalConflict(report saga.Report) bool {
	conflict := false
	for _, res := range report.Results {
		if res.OK() {
			continue
		}
		if res.Status != store.StatusNotFound {
			return false
		}
		conflict = true
	}
	return conflict
}

// finish merges, broadcasts and sends the terminal success reply
func (o *Orchestrator) finish(
	ctx context.Context,
	kind message.EntityKind,
	op message.OperationType,
	scopeID string,
	dt message.DescriptionType,
	replyBatch message.KeyedBatch,
	committed message.KeyedBatch,
	policies map[string]message.AccessPolicySpecifier,
	d Delivery,
) {
	body, err := message.MarshalKeyed(replyBatch)
	if err != nil {
		// The batch is already committed; answer with the failure rather
		// than leaving the caller waiting
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusServerError, "failed to encode reply: "+err.Error(), dt))
		return
	}

	o.broadcaster.Notify(ctx, kind, op, scopeID, committed, policies)

	o.reply(kind, op, d, &message.ResponseEnvelope{
		Status:          message.StatusOK,
		Message:         "ok",
		DescriptionType: dt,
		Body:            body,
	})
}

// reply publishes the terminal response and records the request outcome
func (o *Orchestrator) reply(kind message.EntityKind, op message.OperationType, d Delivery, resp *message.ResponseEnvelope) {
	payload, err := json.Marshal(resp)
	if err != nil {
		o.logger.Error("Failed to encode response envelope", "error", err)
		payload = []byte(`{"status":500,"message":"internal encoding failure"}`)
	}

	if err := o.caller.Reply(d.ReplyTo, d.CorrelationID, payload, d.Ack); err != nil {
		o.logger.Error("Failed to send terminal reply",
			"kind", kind,
			"operation", op,
			"correlation_id", d.CorrelationID,
			"error", err)
		return
	}

	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(
			kind.String(), op.String(), strconv.Itoa(resp.Status)).Inc()
	}
}

// decodeBatch decodes a keyed entity map for the given kind
func decodeBatch(kind message.EntityKind, raw json.RawMessage) (message.KeyedBatch, error) {
	switch kind {
	case message.KindResource:
		return message.DecodeResourceBatch(raw)
	case message.KindInformationModel:
		return message.DecodeInformationModelBatch(raw)
	case message.KindFederation:
		return message.DecodeFederationBatch(raw)
	case message.KindSspResource:
		return message.DecodeDeviceBatch(raw)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("no batch form for kind %q", kind),
			"Orchestrator", "decodeBatch", "decode request body")
	}
}
