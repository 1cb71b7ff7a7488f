package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	regerrors "github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
)

func TestMemoryStore_SaveAssignsID(t *testing.T) {
	s := NewMemoryStore()

	res := s.Save(context.Background(), message.KindResource, &message.Resource{
		Name:                   "sensor-a",
		InterworkingServiceURL: "http://p1.example.com/iw/",
	})

	require.True(t, res.OK())
	assert.NotEmpty(t, res.Entity.GetID())
	assert.Equal(t, 1, s.Count(message.KindResource))
}

func TestMemoryStore_SaveDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := s.Save(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "sensor-a"})
	require.True(t, first.OK())

	second := s.Save(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "sensor-a-again"})
	assert.False(t, second.OK())
	assert.Equal(t, StatusConflict, second.Status)
	assert.Contains(t, second.Message, regerrors.ErrAlreadyExists.Error())
}

func TestMemoryStore_UpdateRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved := s.Save(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "sensor-a"})
	require.True(t, saved.OK())

	updated := s.Update(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "sensor-a-v2"})
	require.True(t, updated.OK())

	found := s.FindByID(ctx, message.KindResource, "r-1")
	require.True(t, found.OK())
	assert.Equal(t, "sensor-a-v2", found.Entity.(*message.Resource).Name)
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := NewMemoryStore()

	res := s.Update(context.Background(), message.KindResource, &message.Resource{ID: "ghost"})
	assert.Equal(t, StatusNotFound, res.Status)

	res = s.Update(context.Background(), message.KindResource, &message.Resource{})
	assert.Equal(t, StatusNotFound, res.Status)
}

func TestMemoryStore_DeleteAndFind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, message.KindFederation, &message.Federation{ID: "f-1", Name: "fed"})

	require.True(t, s.Delete(ctx, message.KindFederation, "f-1").OK())
	assert.Equal(t, StatusNotFound, s.Delete(ctx, message.KindFederation, "f-1").Status)
	assert.Equal(t, StatusNotFound, s.FindByID(ctx, message.KindFederation, "f-1").Status)
}

func TestMemoryStore_Restore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "v1"})
	s.Delete(ctx, message.KindResource, "r-1")

	res := s.Restore(ctx, message.KindResource, &message.Resource{ID: "r-1", Name: "v1"})
	require.True(t, res.OK())

	found := s.FindByID(ctx, message.KindResource, "r-1")
	require.True(t, found.OK())
	assert.Equal(t, "v1", found.Entity.(*message.Resource).Name)
}

func TestMemoryStore_FindResourcesByServiceURL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, message.KindResource, &message.Resource{
		ID: "r-1", Name: "a", InterworkingServiceURL: "http://p1.example.com/iw",
	})
	s.Save(ctx, message.KindResource, &message.Resource{
		ID: "r-2", Name: "b", InterworkingServiceURL: "http://p1.example.com/iw/",
	})
	s.Save(ctx, message.KindResource, &message.Resource{
		ID: "r-3", Name: "c", InterworkingServiceURL: "http://other.example.com/iw/",
	})

	// Trailing-slash variants must match each other post-normalization
	matches, err := s.FindResourcesByServiceURL(ctx, "http://p1.example.com/iw")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryStore_SaveHookFailure(t *testing.T) {
	s := NewMemoryStore()
	s.SaveHook = func(_ message.EntityKind, e message.Entity) error {
		if e.(*message.Resource).Name == "poison" {
			return errors.New("simulated store outage")
		}
		return nil
	}

	ok := s.Save(context.Background(), message.KindResource, &message.Resource{Name: "fine"})
	assert.True(t, ok.OK())

	bad := s.Save(context.Background(), message.KindResource, &message.Resource{Name: "poison"})
	assert.Equal(t, StatusStoreError, bad.Status)
	assert.Equal(t, 1, s.Count(message.KindResource))
}
