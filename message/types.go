// Package message defines the domain entities and wire envelopes carried
// between the registry, its callers and the semantic-validation peer.
package message

import "encoding/json"

// EntityKind identifies the kind of registry entity an operation targets
type EntityKind string

// Registry entity kinds
const (
	KindResource         EntityKind = "resource"
	KindInformationModel EntityKind = "informationModel"
	KindFederation       EntityKind = "federation"
	KindPlatform         EntityKind = "platform"
	KindSspResource      EntityKind = "sspResource"
)

// String returns the string representation of the EntityKind
func (k EntityKind) String() string {
	return string(k)
}

// IsValid checks if the EntityKind is one of the defined constants
func (k EntityKind) IsValid() bool {
	switch k {
	case KindResource, KindInformationModel, KindFederation, KindPlatform, KindSspResource:
		return true
	default:
		return false
	}
}

// OperationType identifies the mutation a request asks for
type OperationType string

// Registry operation types
const (
	OpCreation     OperationType = "creation"
	OpModification OperationType = "modification"
	OpRemoval      OperationType = "removal"
)

// String returns the string representation of the OperationType
func (op OperationType) String() string {
	return string(op)
}

// IsValid checks if the OperationType is one of the defined constants
func (op OperationType) IsValid() bool {
	switch op {
	case OpCreation, OpModification, OpRemoval:
		return true
	default:
		return false
	}
}

// DescriptionType distinguishes pre-structured bodies from raw graph-encoded ones
type DescriptionType string

// Description types accepted on the wire
const (
	// DescriptionBasic is a keyed map of structured entities
	DescriptionBasic DescriptionType = "basic"
	// DescriptionRDF is a raw graph-encoded description that must be
	// resolved against the platform's interworking services first
	DescriptionRDF DescriptionType = "rdf"
)

// IsValid checks if the DescriptionType is one of the defined constants
func (dt DescriptionType) IsValid() bool {
	return dt == DescriptionBasic || dt == DescriptionRDF
}

// Response status codes carried in ResponseEnvelope.Status
const (
	// StatusOK indicates the whole batch committed
	StatusOK = 200
	// StatusBadRequest indicates a malformed body, a rejected credential,
	// an ownership mismatch or an unresolvable endpoint
	StatusBadRequest = 400
	// StatusPartialConflict indicates a removal that could not cover the
	// full batch (some ids missing)
	StatusPartialConflict = 410
	// StatusServerError indicates a semantic-peer failure, a bulk
	// persistence failure or a reply timeout
	StatusServerError = 500
)

// Entity is implemented by every persistable registry object.
// An id is never empty once persisted: creation assigns it at persistence
// time, modification and removal require the caller to supply it.
type Entity interface {
	GetID() string
	SetID(id string)
}

// ServiceBound is implemented by entities attached to a platform's
// interworking service; ownership checks compare these URLs post-normalization.
type ServiceBound interface {
	Entity
	ServiceURL() string
}

// KeyedBatch maps caller-chosen opaque keys to entities in flight.
// Keys are stable across the whole workflow so callers can reconcile
// which of their original items succeeded.
type KeyedBatch map[string]Entity

// Clone returns a shallow copy of the batch (entities are shared)
func (kb KeyedBatch) Clone() KeyedBatch {
	out := make(KeyedBatch, len(kb))
	for k, v := range kb {
		out[k] = v
	}
	return out
}

// Keys returns the caller-chosen keys of the batch
func (kb KeyedBatch) Keys() []string {
	keys := make([]string, 0, len(kb))
	for k := range kb {
		keys = append(keys, k)
	}
	return keys
}

// MarshalKeyed serializes a keyed batch as a JSON object keyed by the
// caller's keys, preserving the caller-visible shape
func MarshalKeyed(kb KeyedBatch) (json.RawMessage, error) {
	m := make(map[string]Entity, len(kb))
	for k, v := range kb {
		m[k] = v
	}
	return json.Marshal(m)
}
