package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestGuard_Authenticate(t *testing.T) {
	m := NewJWTManager("guard-secret", time.Minute)
	g := NewGuard(m)

	id := bson.NewObjectID()
	token, _, err := m.GenerateToken(id, "user", "Ann")
	require.NoError(t, err)

	for _, cred := range []string{token, "Bearer " + token, "bearer   " + token} {
		claims, err := g.Authenticate(cred)
		require.NoError(t, err, cred)
		assert.Equal(t, id.Hex(), claims.UserID)
	}

	_, err = g.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = g.Authenticate("Bearer ")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = g.Authenticate("Bearer not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestClaimsContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	c := &Claims{UserID: bson.NewObjectID().Hex(), Name: "Zed"}
	got, ok := ClaimsFromContext(WithClaims(context.Background(), c))
	require.True(t, ok)
	assert.Same(t, c, got)
}
