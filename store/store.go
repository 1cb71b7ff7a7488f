// Package store implements the registry's document store: save, update,
// find and delete of registry entities, keyed by id, one bucket per entity
// kind. Every operation returns a Result so batch logic can inspect all
// outcomes before deciding to compensate; store failures never cross the
// workflow boundary as panics or bare errors.
package store

import (
	"context"

	"github.com/symbiote-h2020/Registry-sub000/message"
)

// Per-entity persistence status codes. These mirror the wire status codes
// so orchestrators can aggregate them without translation.
const (
	StatusOK         = message.StatusOK
	StatusNotFound   = message.StatusBadRequest
	StatusConflict   = message.StatusBadRequest
	StatusStoreError = message.StatusServerError
)

// Result reports the outcome of a single store operation. Entity carries
// the persisted-or-attempted object; on success its id is always populated.
type Result struct {
	Status  int
	Message string
	Entity  message.Entity
}

// OK reports whether the operation succeeded
func (r Result) OK() bool {
	return r.Status == message.StatusOK
}

// DocumentStore is the persistence collaborator used by the bulk engine
// and the orchestrator handlers
type DocumentStore interface {
	// Save persists a new entity, assigning an id when the caller left it
	// empty. A duplicate id is a reported failure, not an overwrite.
	Save(ctx context.Context, kind message.EntityKind, entity message.Entity) Result

	// Update replaces an existing entity; a missing id is a failure
	Update(ctx context.Context, kind message.EntityKind, entity message.Entity) Result

	// FindByID loads an entity, Result.Status is StatusNotFound when absent
	FindByID(ctx context.Context, kind message.EntityKind, id string) Result

	// Delete removes an entity by id
	Delete(ctx context.Context, kind message.EntityKind, id string) Result

	// Restore writes an entity back unconditionally. Used only by
	// compensation to re-establish a pre-image after a failed batch.
	Restore(ctx context.Context, kind message.EntityKind, entity message.Entity) Result

	// FindResourcesByServiceURL returns every resource whose normalized
	// interworking service URL equals the given URL post-normalization
	FindResourcesByServiceURL(ctx context.Context, url string) ([]*message.Resource, error)
}

// newEntity returns a zero value of the concrete type stored under kind
func newEntity(kind message.EntityKind) message.Entity {
	switch kind {
	case message.KindResource:
		return &message.Resource{}
	case message.KindInformationModel:
		return &message.InformationModel{}
	case message.KindFederation:
		return &message.Federation{}
	case message.KindPlatform:
		return &message.Platform{}
	case message.KindSspResource:
		return &message.SmartSpaceDevice{}
	default:
		return nil
	}
}
