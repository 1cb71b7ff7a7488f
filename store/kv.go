package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/natsclient"
	"github.com/symbiote-h2020/Registry-sub000/pkg/retry"
)

// BucketNames maps entity kinds to their KV bucket names
var BucketNames = map[message.EntityKind]string{
	message.KindResource:         "registry_resources",
	message.KindInformationModel: "registry_information_models",
	message.KindFederation:       "registry_federations",
	message.KindPlatform:         "registry_platforms",
	message.KindSspResource:      "registry_ssp_resources",
}

// KVStore persists registry documents in JetStream KV, one bucket per
// entity kind. Create-only semantics on Save are the only guard against
// concurrent creations of the same id.
type KVStore struct {
	buckets map[message.EntityKind]*natsclient.KVStore
	logger  *slog.Logger
}

// NewKVStore creates the buckets (if needed) and returns the store
func NewKVStore(ctx context.Context, client *natsclient.Client, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	buckets := make(map[message.EntityKind]*natsclient.KVStore, len(BucketNames))
	for kind, name := range BucketNames {
		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: fmt.Sprintf("registry documents: %s", kind),
		})
		if err != nil {
			return nil, errors.Wrap(err, "KVStore", "NewKVStore", fmt.Sprintf("create bucket %s", name))
		}
		buckets[kind] = client.NewKVStore(bucket)
	}

	return &KVStore{buckets: buckets, logger: logger}, nil
}

func (s *KVStore) bucket(kind message.EntityKind) (*natsclient.KVStore, Result) {
	kv, ok := s.buckets[kind]
	if !ok {
		return nil, Result{
			Status:  StatusStoreError,
			Message: fmt.Sprintf("no bucket for entity kind %q", kind),
		}
	}
	return kv, Result{Status: StatusOK}
}

// Save persists a new entity, assigning a fresh id when absent
func (s *KVStore) Save(ctx context.Context, kind message.EntityKind, entity message.Entity) Result {
	kv, res := s.bucket(kind)
	if !res.OK() {
		res.Entity = entity
		return res
	}

	if entity.GetID() == "" {
		entity.SetID(uuid.New().String())
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("marshal entity: %v", err), Entity: entity}
	}

	if _, err := kv.Create(ctx, entity.GetID(), data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return Result{
				Status:  StatusConflict,
				Message: fmt.Sprintf("%s %s: %v", kind, entity.GetID(), errors.ErrAlreadyExists),
				Entity:  entity,
			}
		}
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}

	s.logger.Debug("Saved entity", "kind", kind.String(), "id", entity.GetID())
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// Update replaces an existing entity via CAS, retrying on concurrent
// revisions of the same key
func (s *KVStore) Update(ctx context.Context, kind message.EntityKind, entity message.Entity) Result {
	kv, res := s.bucket(kind)
	if !res.OK() {
		res.Entity = entity
		return res
	}

	if entity.GetID() == "" {
		return Result{Status: StatusNotFound, Message: "update requires a caller-supplied id", Entity: entity}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("marshal entity: %v", err), Entity: entity}
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		current, err := kv.Get(ctx, entity.GetID())
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				return retry.NonRetryable(errors.ErrNotFound)
			}
			return err
		}
		if _, err := kv.Update(ctx, entity.GetID(), data, current.Revision); err != nil {
			// Revision conflicts re-read and retry; anything else bubbles up
			if natsclient.IsKVConflictError(err) {
				return err
			}
			return retry.NonRetryable(err)
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return Result{
				Status:  StatusNotFound,
				Message: fmt.Sprintf("%s %s not found", kind, entity.GetID()),
				Entity:  entity,
			}
		}
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}

	s.logger.Debug("Updated entity", "kind", kind.String(), "id", entity.GetID())
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// FindByID loads an entity by id. Transient read failures are retried on a
// short backoff; a missing key fails immediately.
func (s *KVStore) FindByID(ctx context.Context, kind message.EntityKind, id string) Result {
	kv, res := s.bucket(kind)
	if !res.OK() {
		return res
	}

	entry, err := retry.DoWithResult(ctx, retry.Quick(), func() (*natsclient.KVEntry, error) {
		e, err := kv.Get(ctx, id)
		if err != nil && natsclient.IsKVNotFoundError(err) {
			return nil, retry.NonRetryable(err)
		}
		return e, err
	})
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Result{Status: StatusNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
		}
		return Result{Status: StatusStoreError, Message: err.Error()}
	}

	entity := newEntity(kind)
	if entity == nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("unknown entity kind %q", kind)}
	}
	if err := json.Unmarshal(entry.Value, entity); err != nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("decode stored entity: %v", err)}
	}

	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// Delete removes an entity by id
func (s *KVStore) Delete(ctx context.Context, kind message.EntityKind, id string) Result {
	kv, res := s.bucket(kind)
	if !res.OK() {
		return res
	}

	if err := kv.Delete(ctx, id); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Result{Status: StatusNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
		}
		return Result{Status: StatusStoreError, Message: err.Error()}
	}

	s.logger.Debug("Deleted entity", "kind", kind.String(), "id", id)
	return Result{Status: StatusOK, Message: "ok"}
}

// Restore writes an entity back unconditionally (compensation only)
func (s *KVStore) Restore(ctx context.Context, kind message.EntityKind, entity message.Entity) Result {
	kv, res := s.bucket(kind)
	if !res.OK() {
		res.Entity = entity
		return res
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return Result{Status: StatusStoreError, Message: fmt.Sprintf("marshal entity: %v", err), Entity: entity}
	}

	if _, err := kv.Put(ctx, entity.GetID(), data); err != nil {
		return Result{Status: StatusStoreError, Message: err.Error(), Entity: entity}
	}
	return Result{Status: StatusOK, Message: "ok", Entity: entity}
}

// FindResourcesByServiceURL scans the resource bucket for resources bound
// to the given service URL (compared post-normalization)
func (s *KVStore) FindResourcesByServiceURL(ctx context.Context, url string) ([]*message.Resource, error) {
	kv, res := s.bucket(message.KindResource)
	if !res.OK() {
		return nil, errors.ErrStorageUnavailable
	}

	normalized := message.NormalizeServiceURL(url)

	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "KVStore", "FindResourcesByServiceURL", "list resource keys")
	}

	matches := []*message.Resource{}
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between list and get
			}
			return nil, errors.Wrap(err, "KVStore", "FindResourcesByServiceURL", fmt.Sprintf("load resource %s", key))
		}

		var resource message.Resource
		if err := json.Unmarshal(entry.Value, &resource); err != nil {
			s.logger.Warn("Skipping undecodable resource document", "id", key, "error", err)
			continue
		}

		if message.NormalizeServiceURL(resource.InterworkingServiceURL) == normalized {
			matches = append(matches, &resource)
		}
	}

	return matches, nil
}
