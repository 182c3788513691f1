// Package gateway is the edge of the API: it authenticates requests, carries
// the typed per-request context, and serves the subscription websocket.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/funsideprojects/open-network-backend/store"
	"github.com/funsideprojects/open-network-backend/token"
)

// Cookie names for the issued credentials.
const (
	CookieAccess  = "accessToken"
	CookieRefresh = "refreshToken"
)

// RequestContext is the explicit, statically-typed per-request context:
// the verified identity plus the store handles resolvers work with.
// AuthUser is nil for anonymous requests.
type RequestContext struct {
	AuthUser      *token.UserData
	Users         store.UserStore
	Notifications store.NotificationStore
	Development   bool
}

type ctxKey struct{}

// FromContext returns the request context attached by Middleware, nil if the
// request never passed through it.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

// Auth builds the HTTP middleware that verifies the access token and attaches
// the request context. Missing or invalid credentials degrade to an anonymous
// request; guards decide later whether that is acceptable.
type Auth struct {
	Tokens        *token.Service
	Users         store.UserStore
	Notifications store.NotificationStore
	Development   bool
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &RequestContext{
			Users:         a.Users,
			Notifications: a.Notifications,
			Development:   a.Development,
		}
		if user, ok := a.Tokens.Verify(token.PurposeAccess, a.tokenFromRequest(r)); ok {
			rc.AuthUser = user
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, rc)))
	})
}

// tokenFromRequest reads the access token from the Authorization header or,
// failing that, the access cookie.
func (a *Auth) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" && h != "null" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieAccess); err == nil {
		return c.Value
	}
	return ""
}
