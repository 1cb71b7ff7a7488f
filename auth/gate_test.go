package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/store"
)

var testSecret = []byte("test-signing-secret")

func TestCheckOperationAccess_ValidOwnerToken(t *testing.T) {
	gate := NewGate(testSecret, store.NewMemoryStore(), nil)

	token, err := NewOwnerToken(testSecret, "caller-1", "platform-1", time.Hour)
	require.NoError(t, err)

	res := gate.CheckOperationAccess(context.Background(),
		&message.SecurityRequest{Token: token}, "platform-1")
	assert.True(t, res.Validated)
}

func TestCheckOperationAccess_SubjectEqualsScope(t *testing.T) {
	gate := NewGate(testSecret, store.NewMemoryStore(), nil)

	claims := &RegistryClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "platform-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	res := gate.CheckOperationAccess(context.Background(),
		&message.SecurityRequest{Token: token}, "platform-1")
	assert.True(t, res.Validated)
}

func TestCheckOperationAccess_Rejections(t *testing.T) {
	gate := NewGate(testSecret, store.NewMemoryStore(), nil)
	ctx := context.Background()

	ownerToken, err := NewOwnerToken(testSecret, "caller-1", "platform-1", time.Hour)
	require.NoError(t, err)

	t.Run("absent credential", func(t *testing.T) {
		res := gate.CheckOperationAccess(ctx, nil, "platform-1")
		assert.False(t, res.Validated)
		assert.Contains(t, res.Message, "no security credential")
	})

	t.Run("empty scope", func(t *testing.T) {
		res := gate.CheckOperationAccess(ctx, &message.SecurityRequest{Token: ownerToken}, "")
		assert.False(t, res.Validated)
	})

	t.Run("garbage token", func(t *testing.T) {
		res := gate.CheckOperationAccess(ctx, &message.SecurityRequest{Token: "not-a-jwt"}, "platform-1")
		assert.False(t, res.Validated)
		assert.Contains(t, res.Message, "token validation failed")
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewOwnerToken([]byte("other-secret"), "caller-1", "platform-1", time.Hour)
		require.NoError(t, err)
		res := gate.CheckOperationAccess(ctx, &message.SecurityRequest{Token: other}, "platform-1")
		assert.False(t, res.Validated)
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := NewOwnerToken(testSecret, "caller-1", "platform-1", -time.Minute)
		require.NoError(t, err)
		res := gate.CheckOperationAccess(ctx, &message.SecurityRequest{Token: expired}, "platform-1")
		assert.False(t, res.Validated)
	})

	t.Run("scope mismatch", func(t *testing.T) {
		res := gate.CheckOperationAccess(ctx, &message.SecurityRequest{Token: ownerToken}, "platform-2")
		assert.False(t, res.Validated)
		assert.Contains(t, res.Message, "no access policy satisfied")
	})
}

func platformStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	res := s.Save(context.Background(), message.KindPlatform, &message.Platform{
		ID:   "platform-1",
		Name: "Platform One",
		InterworkingServices: []message.InterworkingService{
			{URL: "http://p1.example.com/iw", InformationModelID: "bim"},
		},
	})
	require.True(t, res.OK())
	return s
}

func TestCheckOwnership_AllOwned(t *testing.T) {
	gate := NewGate(testSecret, platformStore(t), nil)

	batch := message.KeyedBatch{
		"a": &message.Resource{Name: "sensor-a", InterworkingServiceURL: "http://p1.example.com/iw/"},
		"b": &message.Resource{Name: "sensor-b", InterworkingServiceURL: "http://p1.example.com/iw"},
	}

	res := gate.CheckOwnership(context.Background(), batch, "platform-1")
	assert.True(t, res.Validated)
}

func TestCheckOwnership_ForeignURLRejected(t *testing.T) {
	gate := NewGate(testSecret, platformStore(t), nil)

	batch := message.KeyedBatch{
		"a": &message.Resource{Name: "sensor-a", InterworkingServiceURL: "http://p1.example.com/iw/"},
		"b": &message.Resource{Name: "sensor-b", InterworkingServiceURL: "http://evil.example.com/iw/"},
	}

	res := gate.CheckOwnership(context.Background(), batch, "platform-1")
	assert.False(t, res.Validated)
	assert.Contains(t, res.Message, `"b"`)
}

func TestCheckOwnership_UnknownPlatform(t *testing.T) {
	gate := NewGate(testSecret, store.NewMemoryStore(), nil)

	batch := message.KeyedBatch{
		"a": &message.Resource{Name: "sensor-a", InterworkingServiceURL: "http://p1.example.com/iw/"},
	}

	res := gate.CheckOwnership(context.Background(), batch, "ghost-platform")
	assert.False(t, res.Validated)
	assert.Contains(t, res.Message, "not registered")
}

func TestCheckOwnership_EmptyBatch(t *testing.T) {
	gate := NewGate(testSecret, platformStore(t), nil)
	res := gate.CheckOwnership(context.Background(), message.KeyedBatch{}, "platform-1")
	assert.False(t, res.Validated)
}
