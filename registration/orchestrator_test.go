package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/Registry-sub000/auth"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/rpc"
	"github.com/symbiote-h2020/Registry-sub000/saga"
	"github.com/symbiote-h2020/Registry-sub000/semantic"
	"github.com/symbiote-h2020/Registry-sub000/store"
)

var testSecret = []byte("orchestrator-test-secret")

// fakeCaller records outbound calls and replies instead of touching a broker
type fakeCaller struct {
	calls   []fakeCall
	replies []fakeReply
}

type fakeCall struct {
	subject string
	payload []byte
	cont    rpc.Continuation
}

type fakeReply struct {
	replyTo       string
	correlationID string
	payload       []byte
	acked         bool
}

func (f *fakeCaller) Call(_ context.Context, subject string, payload []byte, cont rpc.Continuation) (string, error) {
	f.calls = append(f.calls, fakeCall{subject: subject, payload: payload, cont: cont})
	return fmt.Sprintf("corr-%d", len(f.calls)), nil
}

func (f *fakeCaller) Reply(replyTo, correlationID string, payload []byte, ack func() error) error {
	reply := fakeReply{replyTo: replyTo, correlationID: correlationID, payload: payload}
	if ack != nil {
		if err := ack(); err == nil {
			reply.acked = true
		}
	}
	f.replies = append(f.replies, reply)
	return nil
}

func (f *fakeCaller) lastResponse(t *testing.T) *message.ResponseEnvelope {
	t.Helper()
	require.NotEmpty(t, f.replies, "no terminal reply was sent")
	var resp message.ResponseEnvelope
	require.NoError(t, json.Unmarshal(f.replies[len(f.replies)-1].payload, &resp))
	return &resp
}

type fakeBroadcaster struct {
	events []fakeEvent
}

type fakeEvent struct {
	kind      message.EntityKind
	op        message.OperationType
	scopeID   string
	committed message.KeyedBatch
	policies  map[string]message.AccessPolicySpecifier
}

func (f *fakeBroadcaster) Notify(_ context.Context, kind message.EntityKind, op message.OperationType, scopeID string, committed message.KeyedBatch, policies map[string]message.AccessPolicySpecifier) {
	f.events = append(f.events, fakeEvent{kind: kind, op: op, scopeID: scopeID, committed: committed, policies: policies})
}

type fixture struct {
	orch      *Orchestrator
	caller    *fakeCaller
	events    *fakeBroadcaster
	docs      *store.MemoryStore
	token     string
	platform  *message.Platform
	acked     bool
	delivered Delivery
}

const testPlatformID = "platform-1"
const testServiceURL = "https://p1.example.org/iws/"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	docs := store.NewMemoryStore()
	platform := &message.Platform{
		ID:   testPlatformID,
		Name: "Test Platform",
		InterworkingServices: []message.InterworkingService{
			{URL: testServiceURL, InformationModelID: "bim"},
		},
	}
	require.True(t, docs.Save(context.Background(), message.KindPlatform, platform).OK())

	token, err := auth.NewOwnerToken(testSecret, "operator", testPlatformID, time.Hour)
	require.NoError(t, err)

	f := &fixture{
		caller:   &fakeCaller{},
		events:   &fakeBroadcaster{},
		docs:     docs,
		token:    token,
		platform: platform,
	}
	gate := auth.NewGate(testSecret, docs, nil)
	engine := saga.NewEngine(docs, nil, nil)
	f.orch = NewOrchestrator(f.caller, gate, engine, docs, f.events)
	f.delivered = Delivery{
		ReplyTo:       "_INBOX.caller",
		CorrelationID: "caller-corr-1",
		Ack:           func() error { f.acked = true; return nil },
	}
	return f
}

func (f *fixture) envelope(t *testing.T, dt message.DescriptionType, body any) []byte {
	return f.envelopeWithPolicies(t, dt, body, nil)
}

func (f *fixture) envelopeWithPolicies(t *testing.T, dt message.DescriptionType, body any, policies map[string]message.AccessPolicySpecifier) []byte {
	t.Helper()
	rawBody, err := json.Marshal(body)
	require.NoError(t, err)
	fields := map[string]any{
		"securityRequest": map[string]any{"token": f.token},
		"platformId":      testPlatformID,
		"descriptionType": string(dt),
		"body":            json.RawMessage(rawBody),
	}
	if policies != nil {
		fields["filteringPolicies"] = policies
	}
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	return payload
}

func resourceBatchBody() map[string]*message.Resource {
	return map[string]*message.Resource{
		"a": {Name: "R1", InterworkingServiceURL: testServiceURL},
		"b": {Name: "R2", InterworkingServiceURL: testServiceURL},
	}
}

func TestCreationHappyPathTwoHop(t *testing.T) {
	f := newFixture(t)

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)

	// First hop done, workflow suspended: no reply yet, one outbound call
	require.Len(t, f.caller.calls, 1)
	assert.Equal(t, semantic.SubjectCreationBasic, f.caller.calls[0].subject)
	assert.Empty(t, f.caller.replies)
	assert.False(t, f.acked)

	// The peer approves both entities unchanged
	verdict := semantic.EchoVerdict(f.caller.calls[0].subject, f.caller.calls[0].payload)
	verdictPayload, err := json.Marshal(verdict)
	require.NoError(t, err)
	f.caller.calls[0].cont.OnReply(context.Background(), verdictPayload)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusOK, resp.Status)
	assert.True(t, f.acked)
	assert.Equal(t, "caller-corr-1", f.caller.replies[0].correlationID)

	// Ids merged back under the caller's keys
	var merged map[string]message.Resource
	require.NoError(t, json.Unmarshal(resp.Body, &merged))
	require.Contains(t, merged, "a")
	require.Contains(t, merged, "b")
	assert.NotEmpty(t, merged["a"].ID)
	assert.NotEmpty(t, merged["b"].ID)
	assert.NotEqual(t, merged["a"].ID, merged["b"].ID)

	assert.Equal(t, 2, f.docs.Count(message.KindResource))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, message.OpCreation, f.events.events[0].op)
	assert.Len(t, f.events.events[0].committed, 2)
}

func TestCreationFanoutCarriesFilteringPolicies(t *testing.T) {
	f := newFixture(t)

	policies := map[string]message.AccessPolicySpecifier{
		"a": {PolicyType: "singleToken", RequiredClaims: map[string]string{"role": "owner"}},
		"b": {PolicyType: "public"},
	}
	f.delivered.Data = f.envelopeWithPolicies(t, message.DescriptionBasic, resourceBatchBody(), policies)
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)
	require.Len(t, f.caller.calls, 1)

	verdict := semantic.EchoVerdict(f.caller.calls[0].subject, f.caller.calls[0].payload)
	verdictPayload, err := json.Marshal(verdict)
	require.NoError(t, err)
	f.caller.calls[0].cont.OnReply(context.Background(), verdictPayload)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusOK, resp.Status)

	// The caller's access policies ride along on the fanout event
	require.Len(t, f.events.events, 1)
	got := f.events.events[0].policies
	require.Len(t, got, 2)
	assert.Equal(t, "singleToken", got["a"].PolicyType)
	assert.Equal(t, "owner", got["a"].RequiredClaims["role"])
	assert.Equal(t, "public", got["b"].PolicyType)
}

func TestCreationAllOrNothingOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.docs.SaveHook = func(kind message.EntityKind, entity message.Entity) error {
		if res, ok := entity.(*message.Resource); ok && res.Name == "R2" {
			return fmt.Errorf("disk full")
		}
		return nil
	}

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)
	require.Len(t, f.caller.calls, 1)

	verdict := semantic.EchoVerdict(f.caller.calls[0].subject, f.caller.calls[0].payload)
	verdictPayload, _ := json.Marshal(verdict)
	f.caller.calls[0].cont.OnReply(context.Background(), verdictPayload)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusServerError, resp.Status)
	assert.Contains(t, resp.Message, "bulk save failed")

	// Compensation removed the key that did persist
	assert.Equal(t, 0, f.docs.Count(message.KindResource))
	assert.Empty(t, f.events.events)
	assert.True(t, f.acked, "failure replies still acknowledge the delivery")
}

func TestAuthorizationRejectionBeforeAnyCall(t *testing.T) {
	f := newFixture(t)
	f.token = "not-a-token"

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)

	assert.Empty(t, f.caller.calls, "no outbound call may precede authorization")
	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusBadRequest, resp.Status)
	assert.Equal(t, 0, f.docs.Count(message.KindResource))
}

func TestMalformedRequestRejected(t *testing.T) {
	f := newFixture(t)

	f.delivered.Data = []byte("this is not json")
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusBadRequest, resp.Status)
	assert.Contains(t, resp.Message, "malformed request")
	assert.True(t, f.acked)
}

func TestPeerRejectionSurfacedVerbatim(t *testing.T) {
	f := newFixture(t)

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)
	require.Len(t, f.caller.calls, 1)

	verdictPayload, _ := json.Marshal(semantic.FailureResult("vocabulary mismatch"))
	f.caller.calls[0].cont.OnReply(context.Background(), verdictPayload)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusServerError, resp.Status)
	assert.Contains(t, resp.Message, "vocabulary mismatch")
	assert.Equal(t, 0, f.docs.Count(message.KindResource))
}

func TestPeerTimeoutSynthesizesFailureReply(t *testing.T) {
	f := newFixture(t)

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)
	require.Len(t, f.caller.calls, 1)

	f.caller.calls[0].cont.OnTimeout(context.Background())

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusServerError, resp.Status)
	assert.Contains(t, resp.Message, "no response from validation service")
	assert.True(t, f.acked)
}

func TestOwnershipRecheckedOnValidatedEntities(t *testing.T) {
	f := newFixture(t)

	f.delivered.Data = f.envelope(t, message.DescriptionBasic, resourceBatchBody())
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)
	require.Len(t, f.caller.calls, 1)

	// The peer rewrites one entity's endpoint to a foreign platform
	rewritten, err := semantic.SuccessResult(message.KeyedBatch{
		"a": &message.Resource{Name: "R1", InterworkingServiceURL: "https://intruder.example.org/iws/"},
	})
	require.NoError(t, err)
	verdictPayload, _ := json.Marshal(rewritten)
	f.caller.calls[0].cont.OnReply(context.Background(), verdictPayload)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusBadRequest, resp.Status)
	assert.Equal(t, 0, f.docs.Count(message.KindResource))
	assert.Empty(t, f.events.events)
}

func TestFederationDirectPath(t *testing.T) {
	f := newFixture(t)

	body := map[string]*message.Federation{
		"f1": {Name: "Smart City Alliance", Public: true, Members: []string{testPlatformID}},
	}
	f.delivered.Data = f.envelope(t, message.DescriptionBasic, body)
	f.orch.Handle(context.Background(), message.KindFederation, message.OpCreation, f.delivered)

	assert.Empty(t, f.caller.calls, "federations never visit the validation peer")
	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusOK, resp.Status)
	assert.Equal(t, 1, f.docs.Count(message.KindFederation))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, message.KindFederation, f.events.events[0].kind)
}

func TestRemovalDirectPath(t *testing.T) {
	f := newFixture(t)
	seeded := &message.Resource{ID: "res-1", Name: "R1", InterworkingServiceURL: testServiceURL}
	require.True(t, f.docs.Save(context.Background(), message.KindResource, seeded).OK())

	body := map[string]*message.Resource{"a": {ID: "res-1"}}
	f.delivered.Data = f.envelope(t, message.DescriptionBasic, body)
	f.orch.Handle(context.Background(), message.KindResource, message.OpRemoval, f.delivered)

	assert.Empty(t, f.caller.calls)
	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusOK, resp.Status)
	assert.Equal(t, 0, f.docs.Count(message.KindResource))

	// Broadcast carries the full pre-removal entity, not the id stub
	require.Len(t, f.events.events, 1)
	removed, ok := f.events.events[0].committed["a"].(*message.Resource)
	require.True(t, ok)
	assert.Equal(t, "R1", removed.Name)
}

func TestPartialRemovalConflict(t *testing.T) {
	f := newFixture(t)
	seeded := &message.Resource{ID: "res-1", Name: "R1", InterworkingServiceURL: testServiceURL}
	require.True(t, f.docs.Save(context.Background(), message.KindResource, seeded).OK())

	body := map[string]*message.Resource{
		"a": {ID: "res-1"},
		"b": {ID: "res-gone"},
	}
	f.delivered.Data = f.envelope(t, message.DescriptionBasic, body)
	f.orch.Handle(context.Background(), message.KindResource, message.OpRemoval, f.delivered)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusPartialConflict, resp.Status)

	// The present resource was restored by compensation
	assert.Equal(t, 1, f.docs.Count(message.KindResource))
	assert.Empty(t, f.events.events)
}

func TestRawDescriptionResolution(t *testing.T) {
	f := newFixture(t)

	raw := message.RawDescription{
		RDF:                    "@prefix bim: <http://example.org/bim#> .",
		RDFFormat:              "TURTLE",
		InterworkingServiceURL: "https://p1.example.org/iws", // no trailing slash on purpose
	}
	f.delivered.Data = f.envelope(t, message.DescriptionRDF, raw)
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)

	require.Len(t, f.caller.calls, 1)
	assert.Equal(t, semantic.SubjectCreationRDF, f.caller.calls[0].subject)

	var request semantic.RDFRequest
	require.NoError(t, json.Unmarshal(f.caller.calls[0].payload, &request))
	assert.Equal(t, "bim", request.InformationModelID)
	assert.Equal(t, testServiceURL, request.InterworkingServiceURL)
}

func TestRawDescriptionUnresolvableEndpoint(t *testing.T) {
	f := newFixture(t)

	raw := message.RawDescription{
		RDF:                    "...",
		InterworkingServiceURL: "https://unknown.example.org/iws/",
	}
	f.delivered.Data = f.envelope(t, message.DescriptionRDF, raw)
	f.orch.Handle(context.Background(), message.KindResource, message.OpCreation, f.delivered)

	assert.Empty(t, f.caller.calls)
	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusBadRequest, resp.Status)
}

func TestClearDataRemovesAllPlatformResources(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		res := &message.Resource{
			ID:                     fmt.Sprintf("res-%d", i),
			Name:                   fmt.Sprintf("R%d", i),
			InterworkingServiceURL: testServiceURL,
		}
		require.True(t, f.docs.Save(context.Background(), message.KindResource, res).OK())
	}
	foreign := &message.Resource{ID: "res-x", Name: "Foreign", InterworkingServiceURL: "https://other.example.org/iws/"}
	require.True(t, f.docs.Save(context.Background(), message.KindResource, foreign).OK())

	payload, err := json.Marshal(ClearDataRequest{
		SecurityRequest: &message.SecurityRequest{Token: f.token},
		PlatformID:      testPlatformID,
	})
	require.NoError(t, err)
	f.delivered.Data = payload
	f.orch.HandleClearData(context.Background(), f.delivered)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusOK, resp.Status)

	// Only the foreign-platform resource survives
	assert.Equal(t, 1, f.docs.Count(message.KindResource))
	require.Len(t, f.events.events, 1)
	assert.Len(t, f.events.events[0].committed, 3)
}

func TestClearDataUnknownPlatform(t *testing.T) {
	f := newFixture(t)

	token, err := auth.NewOwnerToken(testSecret, "operator", "platform-ghost", time.Hour)
	require.NoError(t, err)
	payload, err := json.Marshal(ClearDataRequest{
		SecurityRequest: &message.SecurityRequest{Token: token},
		PlatformID:      "platform-ghost",
	})
	require.NoError(t, err)
	f.delivered.Data = payload
	f.orch.HandleClearData(context.Background(), f.delivered)

	resp := f.caller.lastResponse(t)
	assert.Equal(t, message.StatusBadRequest, resp.Status)
}

func TestDeviceOwnershipBoundToSmartSpace(t *testing.T) {
	f := newFixture(t)

	batch := message.KeyedBatch{
		"d1": &message.SmartSpaceDevice{Name: "Lamp", SspID: "ssp-1", AccessURL: "https://ssp.example.org/lamp/"},
	}
	res := f.orch.checkOwnership(context.Background(), message.KindSspResource, batch, "ssp-1")
	assert.True(t, res.Validated)

	res = f.orch.checkOwnership(context.Background(), message.KindSspResource, batch, "ssp-2")
	assert.False(t, res.Validated)
}

func TestModelOwnershipBoundToOwner(t *testing.T) {
	f := newFixture(t)

	batch := message.KeyedBatch{
		"m1": &message.InformationModel{Name: "BIM", Owner: testPlatformID},
	}
	res := f.orch.checkOwnership(context.Background(), message.KindInformationModel, batch, testPlatformID)
	assert.True(t, res.Validated)

	res = f.orch.checkOwnership(context.Background(), message.KindInformationModel, batch, "platform-2")
	assert.False(t, res.Validated)
}
