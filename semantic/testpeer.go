package semantic

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// Verdict produces the peer's answer for one validation request. The test
// peer invokes it per message; returning a FailureResult exercises the
// rejection path.
type Verdict func(subject string, payload []byte) *ValidationResult

// EchoVerdict passes every request through unchanged: the inbound keyed
// map is returned as the validated object map
func EchoVerdict(_ string, payload []byte) *ValidationResult {
	var objects map[string]json.RawMessage
	if err := json.Unmarshal(payload, &objects); err != nil {
		return FailureResult("unparseable description: " + err.Error())
	}
	return &ValidationResult{Success: true, ObjectDescription: objects}
}

// TestPeer is an in-process stand-in for the semantic-validation service.
// It subscribes to all four validation subjects and answers each request
// on its private reply destination, echoing the correlation id.
type TestPeer struct {
	conn    *nats.Conn
	verdict Verdict
	subs    []*nats.Subscription
	logger  *slog.Logger
}

// NewTestPeer creates a peer answering with verdict. Pass EchoVerdict for
// a peer that approves everything.
func NewTestPeer(conn *nats.Conn, verdict Verdict) *TestPeer {
	return &TestPeer{conn: conn, verdict: verdict, logger: slog.Default()}
}

// Start subscribes to the validation subjects
func (p *TestPeer) Start() error {
	subjects := []string{
		SubjectCreationBasic,
		SubjectCreationRDF,
		SubjectModificationBasic,
		SubjectModificationRDF,
	}
	for _, subject := range subjects {
		sub, err := p.conn.Subscribe(subject, p.handle)
		if err != nil {
			p.Stop()
			return errors.WrapTransient(err, "TestPeer", "Start", "subscribe validation subject")
		}
		p.subs = append(p.subs, sub)
	}
	return nil
}

// Stop drops all subscriptions
func (p *TestPeer) Stop() {
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	p.subs = nil
}

func (p *TestPeer) handle(msg *nats.Msg) {
	if msg.Reply == "" {
		p.logger.Warn("Validation request without reply destination", "subject", msg.Subject)
		return
	}

	result := p.verdict(msg.Subject, msg.Data)
	payload, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("Failed to encode verdict", "error", err)
		return
	}

	reply := &nats.Msg{
		Subject: msg.Reply,
		Header:  nats.Header{"Correlation-Id": []string{msg.Header.Get("Correlation-Id")}},
		Data:    payload,
	}
	if err := p.conn.PublishMsg(reply); err != nil {
		p.logger.Error("Failed to publish verdict", "error", err)
	}
}
