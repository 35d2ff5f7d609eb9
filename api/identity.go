package api

import (
	"context"
	"net/http"
	"strings"
)

// Identity is who the gateway says is calling. It is trusted as given.
type Identity struct {
	StaffID string
	SiteID  string
	Role    string
}

type identityKey struct{}

const (
	HeaderStaffID = "X-Staff-ID"
	HeaderSiteID  = "X-Site-ID"
	HeaderRole    = "X-Role"
)

// anonymousActor is recorded in the audit log when no identity is sent.
const anonymousActor = "api"

// IdentityMiddleware copies the identity headers into the request context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			StaffID: strings.TrimSpace(r.Header.Get(HeaderStaffID)),
			SiteID:  strings.TrimSpace(r.Header.Get(HeaderSiteID)),
			Role:    strings.TrimSpace(r.Header.Get(HeaderRole)),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

func actorID(r *http.Request) string {
	if id := IdentityFrom(r.Context()); id.StaffID != "" {
		return id.StaffID
	}
	return anonymousActor
}
