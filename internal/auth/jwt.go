// README: HS256 bearer tokens for HTTP requests and realtime connections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"foodhub/internal/infra"
	"foodhub/internal/types"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier implements infra.TokenVerifier for tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

func (v *JWTVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	tok, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &infra.Token{UID: c.Subject, Claims: map[string]interface{}{"role": c.Role}}, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (v *JWTVerifier) Issue(userID types.ID, role types.Role, ttl time.Duration) (string, error) {
	now := v.now()
	c := claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// ActorFromToken maps a verified token to an Actor using the "role" claim.
func ActorFromToken(tok *infra.Token) types.Actor {
	a := types.Actor{ID: types.ID(tok.UID)}
	if role, ok := tok.Claims["role"].(string); ok {
		a.Role = types.Role(role)
	}
	return a
}
