// Package service wires the long-running parts of the registry: the
// durable request consumer, the observability listener, and the manager
// that drives their shared lifecycle.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/symbiote-h2020/Registry-sub000/config"
	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/natsclient"
	"github.com/symbiote-h2020/Registry-sub000/registration"
	"github.com/symbiote-h2020/Registry-sub000/rpc"
)

// SubjectClearData is the platform data-clearing request subject
const SubjectClearData = "registry.platform.clearDataRequested"

var operationSuffixes = map[string]message.OperationType{
	"creationRequested":     message.OpCreation,
	"modificationRequested": message.OpModification,
	"removalRequested":      message.OpRemoval,
}

var inboundKinds = []message.EntityKind{
	message.KindResource,
	message.KindInformationModel,
	message.KindSspResource,
	message.KindFederation,
}

// InboundSubjects lists every subject the durable stream captures
func InboundSubjects() []string {
	subjects := make([]string, 0, len(inboundKinds)*len(operationSuffixes)+1)
	for _, kind := range inboundKinds {
		for suffix := range operationSuffixes {
			subjects = append(subjects, fmt.Sprintf("registry.%s.%s", kind, suffix))
		}
	}
	subjects = append(subjects, SubjectClearData)
	return subjects
}

// parseSubject maps an inbound subject to its entity kind and operation
func parseSubject(subject string) (message.EntityKind, message.OperationType, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "registry" {
		return "", "", false
	}
	kind := message.EntityKind(parts[1])
	op, ok := operationSuffixes[parts[2]]
	if !ok || !kind.IsValid() {
		return "", "", false
	}
	return kind, op, true
}

// RegistryService consumes the durable request stream and hands every
// delivery to the orchestrator. One handler invocation per delivery; the
// delivery is acknowledged only after its terminal reply is published.
type RegistryService struct {
	client       *natsclient.Client
	orchestrator *registration.Orchestrator
	streamCfg    config.StreamConfig
	logger       *slog.Logger

	consumeCtx jetstream.ConsumeContext
}

// NewRegistryService creates the request consumer
func NewRegistryService(client *natsclient.Client, orchestrator *registration.Orchestrator, streamCfg config.StreamConfig, logger *slog.Logger) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{
		client:       client,
		orchestrator: orchestrator,
		streamCfg:    streamCfg,
		logger:       logger,
	}
}

// Name identifies the component in lifecycle logs
func (s *RegistryService) Name() string {
	return "registry-consumer"
}

// Initialize ensures the durable stream exists
func (s *RegistryService) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      s.streamCfg.Name,
		Subjects:  InboundSubjects(),
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "RegistryService", "Initialize", "ensure request stream")
	}
	return nil
}

// Start creates the durable consumer and begins processing deliveries
func (s *RegistryService) Start(ctx context.Context) error {
	js, err := s.client.JetStream()
	if err != nil {
		return errors.Wrap(err, "RegistryService", "Start", "access jetstream")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, s.streamCfg.Name, jetstream.ConsumerConfig{
		Durable:       s.streamCfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxAckPending: 256,
	})
	if err != nil {
		return errors.WrapTransient(err, "RegistryService", "Start", "create durable consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return errors.WrapTransient(err, "RegistryService", "Start", "start consuming")
	}
	s.consumeCtx = consumeCtx

	s.logger.Info("Consuming registration requests",
		"stream", s.streamCfg.Name,
		"consumer", s.streamCfg.Consumer)
	return nil
}

// Stop halts delivery processing
func (s *RegistryService) Stop(_ time.Duration) error {
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
		s.consumeCtx = nil
	}
	return nil
}

func (s *RegistryService) handle(ctx context.Context, msg jetstream.Msg) {
	subject := msg.Subject()
	headers := msg.Headers()

	delivery := registration.Delivery{
		ReplyTo:       headers.Get(rpc.HeaderReplyTo),
		CorrelationID: headers.Get(rpc.HeaderCorrelationID),
		Data:          msg.Data(),
		Ack:           msg.Ack,
	}

	// A request without a reply destination cannot be answered; retrying
	// it cannot fix that
	if delivery.ReplyTo == "" {
		s.logger.Warn("Dropping request without reply destination", "subject", subject)
		_ = msg.Term()
		return
	}

	if subject == SubjectClearData {
		s.orchestrator.HandleClearData(ctx, delivery)
		return
	}

	kind, op, ok := parseSubject(subject)
	if !ok {
		s.logger.Warn("Dropping request on unroutable subject", "subject", subject)
		_ = msg.Term()
		return
	}

	s.orchestrator.Handle(ctx, kind, op, delivery)
}
