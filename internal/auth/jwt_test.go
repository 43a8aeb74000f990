package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, pwd))
	assert.Error(t, CheckPassword(hash, "wrong"))
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	id := bson.NewObjectID()
	token, expiresAt, err := m.GenerateToken(id, "admin", "Ada")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, time.Second)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "Ada", claims.Name)

	got, err := claims.ObjectID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestJWTManager_RejectsWrongSecretAndExpired(t *testing.T) {
	id := bson.NewObjectID()

	other := NewJWTManager("other-secret", time.Minute)
	token, _, err := other.GenerateToken(id, "user", "Bob")
	require.NoError(t, err)

	m := NewJWTManager("test-secret", time.Minute)
	_, err = m.VerifyToken(token)
	assert.Error(t, err)

	expired := NewJWTManager("test-secret", -time.Minute)
	token, _, err = expired.GenerateToken(id, "user", "Bob")
	require.NoError(t, err)
	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTManager_RejectsNonObjectIDSubject(t *testing.T) {
	claims := &Claims{
		UserID: "not-an-id",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", time.Minute).VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTManager_Rotation(t *testing.T) {
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)

	id := bson.NewObjectID()

	tkn2, _, err := m.GenerateToken(id, "user", "Rot")
	require.NoError(t, err)
	_, err = m.VerifyToken(tkn2)
	require.NoError(t, err)

	// a token issued while k1 was active still verifies after rotation
	mOld := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := mOld.GenerateToken(id, "user", "Rot")
	require.NoError(t, err)
	_, err = m.VerifyToken(tkn1)
	require.NoError(t, err)

	// once k1 is retired its tokens are refused
	retired := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	_, err = retired.VerifyToken(tkn1)
	assert.Error(t, err)
}

func TestJWTManager_UnknownActiveKidIsDeterministic(t *testing.T) {
	m := NewJWTManagerFromKeys(map[string]string{"a": "1", "b": "2"}, "", time.Minute)
	assert.Equal(t, "b", m.activeKid)
}

func TestJWTManager_RefreshTokens(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute).WithRefreshTTL(time.Hour)
	id := bson.NewObjectID()

	refresh, jti, expiresAt, err := m.GenerateRefreshToken(id)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Second)

	gotID, gotJTI, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, jti, gotJTI)

	_, again, _, err := m.GenerateRefreshToken(id)
	require.NoError(t, err)
	assert.NotEqual(t, jti, again, "each refresh token has its own id")

	// the two token kinds are not interchangeable
	_, err = m.VerifyToken(refresh)
	assert.Error(t, err)
	access, _, err := m.GenerateToken(id, "user", "Ann")
	require.NoError(t, err)
	_, _, err = m.VerifyRefreshToken(access)
	assert.Error(t, err)

	other := NewJWTManager("other-secret", time.Minute)
	_, _, err = other.VerifyRefreshToken(refresh)
	assert.Error(t, err)
}
