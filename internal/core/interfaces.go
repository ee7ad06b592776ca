package core

import (
	"context"

	"braveforms/internal/types"
)

// Authenticator resolves a bearer token to the Actor making the request.
//
// Implementations return an AppError with ErrCodeAuthTokenInvalid for a
// malformed or unverifiable token and ErrCodeAuthTokenExpired for an expired
// one.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
