// Package auth resolves bearer tokens to the Actor performing a request.
// Tokens are HS256 JWTs issued by the platform's identity service; the
// organization claim is the tenant every compliance read and write is scoped
// to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"braveforms/internal/types"
)

// Claims is the token payload. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
	ActorType      string `json:"typ,omitempty"`
}

// JWTAuthenticator verifies tokens with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator. An empty secret is rejected
// so that a misconfigured process cannot accept unsigned tokens.
func NewJWTAuthenticator(secret types.SecretString, issuer string) (*JWTAuthenticator, error) {
	if !secret.IsSet() {
		return nil, errors.New("auth: JWT secret is required")
	}
	return &JWTAuthenticator{
		secret: []byte(secret.Unmask()),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// ResolveToken validates the token and returns its Actor.
func (a *JWTAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}

	if claims.Subject == "" || claims.OrganizationID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is missing subject or organization", nil)
	}

	actorType := types.ActorTypeUser
	if claims.ActorType == string(types.ActorTypeSystem) {
		actorType = types.ActorTypeSystem
	}
	return &types.Actor{
		ID:             claims.Subject,
		Type:           actorType,
		OrganizationID: claims.OrganizationID,
	}, nil
}

// IssueToken signs a token for actor valid for ttl. It is used by tooling and
// tests; production tokens come from the identity service.
func (a *JWTAuthenticator) IssueToken(actor types.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrganizationID: actor.OrganizationID,
		ActorType:      string(actor.Type),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, nil
}
