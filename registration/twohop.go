package registration

import (
	"context"
	"encoding/json"

	"github.com/symbiote-h2020/Registry-sub000/auth"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/semantic"
)

// handleTwoHop authorizes the request, resolves raw descriptions against
// the platform's interworking services, forwards the description to the
// semantic-validation peer and suspends the workflow as a continuation.
// The reply to the original caller happens inside the continuation.
func (o *Orchestrator) handleTwoHop(ctx context.Context, kind message.EntityKind, op message.OperationType, scopeID string, env *message.RequestEnvelope, d Delivery) {
	dt := env.DescriptionType

	var payload []byte
	var original message.KeyedBatch

	if dt == message.DescriptionRDF {
		request, err := o.resolveRawDescription(ctx, scopeID, env.Body)
		if err != nil {
			o.reply(kind, op, d, message.NewErrorResponse(
				message.StatusBadRequest, err.Error(), dt))
			return
		}
		payload, err = json.Marshal(request)
		if err != nil {
			o.reply(kind, op, d, message.NewErrorResponse(
				message.StatusServerError, "failed to encode validation request: "+err.Error(), dt))
			return
		}
	} else {
		// Pre-structured descriptions go to the peer as-is; the decoded
		// batch is kept so persisted ids can be merged back under the
		// caller's keys
		batch, err := decodeBatch(kind, env.Body)
		if err != nil {
			o.reply(kind, op, d, message.NewErrorResponse(
				message.StatusBadRequest, "malformed body: "+err.Error(), dt))
			return
		}
		original = batch
		payload = env.Body
	}

	subject, err := semantic.Subject(op, dt)
	if err != nil {
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusServerError, err.Error(), dt))
		return
	}

	cont := &validationContinuation{
		orchestrator: o,
		kind:         kind,
		op:           op,
		dt:           dt,
		scopeID:      scopeID,
		original:     original,
		policies:     env.FilteringPolicies,
		delivery:     d,
	}

	if _, err := o.caller.Call(ctx, subject, payload, cont); err != nil {
		o.reply(kind, op, d, message.NewErrorResponse(
			message.StatusServerError, "validation service unreachable: "+err.Error(), dt))
		return
	}

	o.logger.Debug("Forwarded description to validation peer",
		"kind", kind,
		"operation", op,
		"scope_id", scopeID,
		"subject", subject)
}

// resolveRawDescription binds a raw graph-encoded description to the
// information model registered for its interworking-service endpoint
func (o *Orchestrator) resolveRawDescription(ctx context.Context, scopeID string, body json.RawMessage) (*semantic.RDFRequest, error) {
	var raw message.RawDescription
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &endpointError{"malformed raw description: " + err.Error()}
	}
	if raw.InterworkingServiceURL == "" {
		return nil, &endpointError{"raw description names no interworking service"}
	}

	platformRes := o.store.FindByID(ctx, message.KindPlatform, scopeID)
	if !platformRes.OK() {
		return nil, &endpointError{"platform " + scopeID + " not registered"}
	}
	platform, ok := platformRes.Entity.(*message.Platform)
	if !ok {
		return nil, &endpointError{"scope " + scopeID + " is not a platform"}
	}

	wanted := message.NormalizeServiceURL(raw.InterworkingServiceURL)
	for _, svc := range platform.InterworkingServices {
		if message.NormalizeServiceURL(svc.URL) == wanted {
			return &semantic.RDFRequest{
				RDF:                    raw.RDF,
				RDFFormat:              raw.RDFFormat,
				InterworkingServiceURL: wanted,
				InformationModelID:     svc.InformationModelID,
			}, nil
		}
	}
	return nil, &endpointError{"no interworking service of platform " + scopeID + " matches " + wanted}
}

type endpointError struct{ msg string }

func (e *endpointError) Error() string { return e.msg }

// validationContinuation resumes the suspended workflow when the peer's
// verdict arrives on the private reply destination. It captures everything
// needed to finish: the original reply target, operation type, scope, the
// caller's keyed batch and its per-key access-policy specifiers.
type validationContinuation struct {
	orchestrator *Orchestrator
	kind         message.EntityKind
	op           message.OperationType
	dt           message.DescriptionType
	scopeID      string
	original     message.KeyedBatch
	policies     map[string]message.AccessPolicySpecifier
	delivery     Delivery
}

// OnReply carries the workflow from the peer's verdict to the terminal
// reply: verdict check, ownership re-check on the validated entities,
// bulk persistence, id merge-back, fanout
func (c *validationContinuation) OnReply(ctx context.Context, data []byte) {
	o := c.orchestrator

	result, err := semantic.ParseResult(data)
	if err != nil {
		o.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
			message.StatusServerError, "unreadable validation verdict: "+err.Error(), c.dt))
		return
	}
	if !result.Success {
		o.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
			message.StatusServerError, "validation failed: "+result.Message, c.dt))
		return
	}

	validated, err := result.Batch(c.kind)
	if err != nil {
		o.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
			message.StatusServerError, "unreadable validated entities: "+err.Error(), c.dt))
		return
	}

	// The peer may rewrite or augment entities, so ownership is checked
	// on what came back, not on what was sent
	ownership := o.checkOwnership(ctx, c.kind, validated, c.scopeID)
	if !ownership.Validated {
		o.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
			message.StatusBadRequest, ownership.Message, c.dt))
		return
	}

	report := o.engine.Apply(ctx, c.kind, validated, c.op)
	if !report.Committed {
		o.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
			message.StatusServerError, "bulk save failed: "+report.FirstFailure(), c.dt))
		return
	}

	// Persisted ids are merged back into the caller's original objects
	// under the caller's keys, preserving the caller-visible shape
	replyBatch := validated
	if c.original != nil {
		for key, entity := range c.original {
			if persisted, ok := validated[key]; ok {
				entity.SetID(persisted.GetID())
			}
		}
		replyBatch = c.original
	}

	o.finish(ctx, c.kind, c.op, c.scopeID, c.dt, replyBatch, validated, c.policies, c.delivery)
}

// OnTimeout answers the caller when the peer never replied. The outcome is
// reported as "no response", distinct from an explicit rejection.
func (c *validationContinuation) OnTimeout(_ context.Context) {
	c.orchestrator.reply(c.kind, c.op, c.delivery, message.NewErrorResponse(
		message.StatusServerError, "no response from validation service", c.dt))
}

// checkOwnership applies the ownership rule appropriate to the kind:
// resources bind to the platform's interworking services, smart-space
// devices to their declared smart space, information models to their owner
func (o *Orchestrator) checkOwnership(ctx context.Context, kind message.EntityKind, batch message.KeyedBatch, scopeID string) auth.Result {
	switch kind {
	case message.KindResource:
		return o.gate.CheckOwnership(ctx, batch, scopeID)

	case message.KindSspResource:
		keys := batch.Keys()
		for _, key := range keys {
			device, ok := batch[key].(*message.SmartSpaceDevice)
			if !ok {
				return auth.Result{Message: "entity " + key + " is not a smart-space device"}
			}
			if device.SspID != "" && device.SspID != scopeID {
				return auth.Result{Message: "device " + key + " belongs to smart space " + device.SspID + ", not " + scopeID}
			}
		}
		return auth.Result{Validated: true, Message: "ok"}

	case message.KindInformationModel:
		keys := batch.Keys()
		for _, key := range keys {
			model, ok := batch[key].(*message.InformationModel)
			if !ok {
				return auth.Result{Message: "entity " + key + " is not an information model"}
			}
			if model.Owner != "" && model.Owner != scopeID {
				return auth.Result{Message: "model " + key + " is owned by " + model.Owner + ", not " + scopeID}
			}
		}
		return auth.Result{Validated: true, Message: "ok"}

	default:
		return auth.Result{Validated: true, Message: "ok"}
	}
}
