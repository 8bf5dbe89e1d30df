package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/infra"
	"foodhub/internal/types"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("s3cret", "foodhub")
	require.NoError(t, err)

	raw, err := v.Issue("partner-7", types.RoleDeliveryPartner, time.Hour)
	require.NoError(t, err)

	tok, err := v.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	actor := ActorFromToken(tok)
	assert.Equal(t, types.ID("partner-7"), actor.ID)
	assert.Equal(t, types.RoleDeliveryPartner, actor.Role)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, _ := NewJWTVerifier("s3cret", "foodhub")
	other, _ := NewJWTVerifier("different", "foodhub")

	wrongKey, _ := other.Issue("u1", types.RoleCustomer, time.Hour)
	expired, _ := v.Issue("u1", types.RoleCustomer, -time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, raw := range map[string]string{
		"wrong key": wrongKey,
		"expired":   expired,
		"alg none":  none,
		"garbage":   "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.VerifyIDToken(context.Background(), raw)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier("", "foodhub")
	assert.Error(t, err)
}

func TestActorFromToken_NoRole(t *testing.T) {
	a := ActorFromToken(&infra.Token{UID: "u9", Claims: map[string]interface{}{}})
	assert.Equal(t, types.ID("u9"), a.ID)
	assert.Equal(t, types.Role(""), a.Role)
}
