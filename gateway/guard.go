package gateway

import (
	"context"

	"github.com/funsideprojects/open-network-backend/apperr"
)

// Resolver is a handler operating on the typed request context.
type Resolver func(ctx context.Context, rc *RequestContext) (any, error)

// RequireAuth wraps a resolver and short-circuits anonymous requests with
// Unauthenticated. Authenticated requests skip through to the wrapped
// resolver unchanged.
func RequireAuth(next Resolver) Resolver {
	return func(ctx context.Context, rc *RequestContext) (any, error) {
		if rc == nil || rc.AuthUser == nil {
			return nil, apperr.ErrUnauthenticated
		}
		return next(ctx, rc)
	}
}

// Compose applies guards right to left, innermost last, so
// Compose(r, RequireAuth) runs RequireAuth before r.
func Compose(r Resolver, guards ...func(Resolver) Resolver) Resolver {
	for i := len(guards) - 1; i >= 0; i-- {
		r = guards[i](r)
	}
	return r
}
