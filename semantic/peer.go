// Package semantic defines the wire contract with the semantic-validation
// peer. The peer is an external collaborator reached over the same
// request/reply convention as the registry itself: it accepts a raw or
// structured description and answers a verdict plus a keyed map of
// validated entities.
package semantic

import (
	"encoding/json"
	"fmt"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
)

// Subject names for the peer, partitioned by operation and description type
const (
	SubjectCreationBasic     = "semantic.validation.creation.basic"
	SubjectCreationRDF       = "semantic.validation.creation.rdf"
	SubjectModificationBasic = "semantic.validation.modification.basic"
	SubjectModificationRDF   = "semantic.validation.modification.rdf"
)

// Subject selects the peer subject for an operation and description type.
// Removal never consults the peer.
func Subject(op message.OperationType, dt message.DescriptionType) (string, error) {
	switch op {
	case message.OpCreation:
		if dt == message.DescriptionRDF {
			return SubjectCreationRDF, nil
		}
		return SubjectCreationBasic, nil
	case message.OpModification:
		if dt == message.DescriptionRDF {
			return SubjectModificationRDF, nil
		}
		return SubjectModificationBasic, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("operation %q has no validation subject", op),
			"semantic", "Subject", "select peer subject")
	}
}

// RDFRequest is the payload sent for raw graph-encoded descriptions, after
// the interworking-service endpoint has been resolved to its information
// model
type RDFRequest struct {
	RDF                    string `json:"rdf"`
	RDFFormat              string `json:"rdfFormat"`
	InterworkingServiceURL string `json:"interworkingServiceUrl"`
	InformationModelID     string `json:"informationModelId"`
}

// ValidationResult is the peer's verdict. ObjectDescription echoes the
// caller's keys; entities may have been rewritten or augmented by the
// peer, so ownership is re-checked on them afterwards.
type ValidationResult struct {
	Success           bool                       `json:"success"`
	Message           string                     `json:"message"`
	ObjectDescription map[string]json.RawMessage `json:"objectDescription"`
}

// ParseResult decodes a peer reply payload
func ParseResult(data []byte) (*ValidationResult, error) {
	var result ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %v", errors.ErrPeerRejected, err),
			"semantic", "ParseResult", "decode peer reply")
	}
	return &result, nil
}

// Batch converts the validated object map into typed entities for the
// given kind, preserving the caller's keys
func (r *ValidationResult) Batch(kind message.EntityKind) (message.KeyedBatch, error) {
	raw, err := json.Marshal(r.ObjectDescription)
	if err != nil {
		return nil, errors.Wrap(err, "semantic", "Batch", "re-encode validated objects")
	}
	switch kind {
	case message.KindResource:
		return message.DecodeResourceBatch(raw)
	case message.KindInformationModel:
		return message.DecodeInformationModelBatch(raw)
	case message.KindSspResource:
		return message.DecodeDeviceBatch(raw)
	case message.KindFederation:
		return message.DecodeFederationBatch(raw)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("kind %q has no validated form", kind),
			"semantic", "Batch", "decode validated objects")
	}
}

// SuccessResult builds a passing verdict from a keyed batch, used by the
// test peer and by canned fixtures
func SuccessResult(batch message.KeyedBatch) (*ValidationResult, error) {
	objects := make(map[string]json.RawMessage, len(batch))
	for key, entity := range batch {
		data, err := json.Marshal(entity)
		if err != nil {
			return nil, errors.Wrap(err, "semantic", "SuccessResult", "encode entity")
		}
		objects[key] = data
	}
	return &ValidationResult{Success: true, ObjectDescription: objects}, nil
}

// FailureResult builds a rejecting verdict
func FailureResult(reason string) *ValidationResult {
	return &ValidationResult{Success: false, Message: reason}
}
