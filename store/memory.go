package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
)

// MemoryStore is an in-memory DocumentStore with the same contract as the
// KV-backed store. It backs unit tests and supports per-operation fault
// injection through the hook functions.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[message.EntityKind]map[string][]byte

	// Fault injection hooks; a non-nil returned error fails the operation
	// with StatusStoreError before any state changes
	SaveHook   func(kind message.EntityKind, entity message.Entity) error
	UpdateHook func(kind message.EntityKind, entity message.Entity) error
	DeleteHook func(kind message.EntityKind, id string) error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[message.EntityKind]map[string][]byte),
	}
}

func (s *MemoryStore) kindDocs(kind message.EntityKind) map[string][]byte {
	if s.docs[kind] == nil {
		s.docs[kind] = make(map[string][]byte)
	}
	return s.docs[kind]
}

// Save persists a new entity, assigning a fresh id when absent
func (s *MemoryStore) Save(_ context.Context, kind message.EntityKind, entity message.Entity) Result {
	if s.SaveHook != nil {
		if err := s.SaveHook(kind, entity); err != nil {
			return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.GetID() == "" {
		entity.SetID(uuid.New().String())
	}

	docs := s.kindDocs(kind)
	if _, exists := docs[entity.GetID()]; exists {
		return Result{
			Status:  StatusConflict,
			Message: fmt.Sprintf("%s %s: %v", kind, entity.GetID(), errors.ErrAlreadyExists),
			Entity:  entity,
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}

	docs[entity.GetID()] = data
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// Update replaces an existing entity
func (s *MemoryStore) Update(_ context.Context, kind message.EntityKind, entity message.Entity) Result {
	if s.UpdateHook != nil {
		if err := s.UpdateHook(kind, entity); err != nil {
			return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.GetID() == "" {
		return Result{Status: StatusNotFound, Message: "update requires a caller-supplied id", Entity: entity}
	}

	docs := s.kindDocs(kind)
	if _, exists := docs[entity.GetID()]; !exists {
		return Result{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("%s %s not found", kind, entity.GetID()),
			Entity:  entity,
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}

	docs[entity.GetID()] = data
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// FindByID loads an entity by id
func (s *MemoryStore) FindByID(_ context.Context, kind message.EntityKind, id string) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.docs[kind][id]
	if !exists {
		return Result{Status: StatusNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
	}

	entity := newEntity(kind)
	if entity == nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("unknown entity kind %q", kind)}
	}
	if err := json.Unmarshal(data, entity); err != nil {
		return Result{Status: StatusStoreError, Message: err.Error()}
	}

	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// Delete removes an entity by id
func (s *MemoryStore) Delete(_ context.Context, kind message.EntityKind, id string) Result {
	if s.DeleteHook != nil {
		if err := s.DeleteHook(kind, id); err != nil {
			return Result{Status: StatusStoreError, Message: err.Error()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.kindDocs(kind)
	if _, exists := docs[id]; !exists {
		return Result{Status: StatusNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
	}

	delete(docs, id)
	return Result{Status: StatusOK, Message: "ok"}
}

// Restore writes an entity back unconditionally (compensation only)
func (s *MemoryStore) Restore(_ context.Context, kind message.EntityKind, entity message.Entity) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}

	s.kindDocs(kind)[entity.GetID()] = data
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// FindResourcesByServiceURL returns resources bound to the given URL
func (s *MemoryStore) FindResourcesByServiceURL(_ context.Context, url string) ([]*message.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := message.NormalizeServiceURL(url)
	matches := []*message.Resource{}

	for _, data := range s.docs[message.KindResource] {
		var resource message.Resource
		if err := json.Unmarshal(data, &resource); err != nil {
			continue
		}
		if message.NormalizeServiceURL(resource.InterworkingServiceURL) == normalized {
			matches = append(matches, &resource)
		}
	}

	return matches, nil
}

// Count returns the number of stored documents of a kind (test helper)
func (s *MemoryStore) Count(kind message.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[kind])
}
