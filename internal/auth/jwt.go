// Package auth issues and verifies access tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"
)

// JWTManager signs and validates HS256 tokens. It holds one or more keys
// addressed by kid so secrets can be rotated without invalidating tokens
// signed by the previous key.
type JWTManager struct {
	keys            map[string][]byte
	activeKid       string
	duration        time.Duration
	refreshDuration time.Duration
}

// DefaultRefreshTTL is the refresh token lifetime unless WithRefreshTTL
// overrides it.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// refreshAudience marks refresh tokens so they are never accepted where an
// access token is expected, and vice versa.
const refreshAudience = "refresh"

// Claims is the token payload: the caller's identity as the rest of the
// backend sees it.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// ObjectID returns the caller id as a bson.ObjectID.
func (c *Claims) ObjectID() (bson.ObjectID, error) {
	return bson.ObjectIDFromHex(c.UserID)
}

// NewJWTManager returns a manager with a single, unnamed signing key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:            map[string][]byte{"": []byte(secretKey)},
		duration:        duration,
		refreshDuration: DefaultRefreshTTL,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies with any of keys. An unknown activeKid falls back to the
// lexically greatest kid so the choice is deterministic.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{
		keys:            make(map[string][]byte, len(keys)),
		duration:        duration,
		refreshDuration: DefaultRefreshTTL,
	}
	kids := make([]string, 0, len(keys))
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
		kids = append(kids, kid)
	}
	if _, ok := keys[activeKid]; ok {
		m.activeKid = activeKid
	} else if len(kids) > 0 {
		sort.Strings(kids)
		m.activeKid = kids[len(kids)-1]
	}
	return m
}

// WithRefreshTTL sets the refresh token lifetime. Non-positive values are
// ignored.
func (m *JWTManager) WithRefreshTTL(d time.Duration) *JWTManager {
	if d > 0 {
		m.refreshDuration = d
	}
	return m
}

// GenerateToken issues a signed token for a user.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, role, name string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID.Hex(),
		Role:   role,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GenerateRefreshToken issues a long-lived token that can only be exchanged
// for access tokens. jti identifies this token so the caller can store it
// and revoke earlier ones.
func (m *JWTManager) GenerateRefreshToken(userID bson.ObjectID) (token, jti string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(m.refreshDuration)
	jti = uuid.NewString()

	token, err = m.sign(&jwt.RegisteredClaims{
		Subject:   userID.Hex(),
		ID:        jti,
		Audience:  jwt.ClaimStrings{refreshAudience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
	})
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// VerifyRefreshToken validates a refresh token and returns its subject and
// jti.
func (m *JWTManager) VerifyRefreshToken(tokenString string) (bson.ObjectID, string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc, jwt.WithAudience(refreshAudience))
	if err != nil {
		return bson.NilObjectID, "", err
	}
	if !token.Valid || claims.ID == "" {
		return bson.NilObjectID, "", errors.New("invalid refresh token")
	}
	userID, err := bson.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return bson.NilObjectID, "", errors.New("token subject is not a valid id")
	}
	return userID, claims.ID, nil
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}
	return token.SignedString(m.keys[m.activeKid])
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	// only HMAC; rejects alg=none and asymmetric confusion
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	key, ok := m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	for _, aud := range claims.Audience {
		if aud == refreshAudience {
			return nil, errors.New("refresh token used as access token")
		}
	}
	if _, err := bson.ObjectIDFromHex(claims.UserID); err != nil {
		return nil, errors.New("token subject is not a valid id")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
