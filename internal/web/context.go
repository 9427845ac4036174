package web

import (
	"context"
	"net/http"

	"github.com/horizon/portal-ledger/internal/core"
	mw "github.com/horizon/portal-ledger/internal/web/middleware"
)

// WithRequestMetadata attaches the operator, client IP and User-Agent of r
// to ctx for the audit trail. The operator was resolved by mw.Identity; an
// anonymous request is recorded as core.SystemActor.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithOrigin(ctx, core.Origin{
		Actor:     mw.ActorFrom(ctx),
		Address:   mw.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// withOrigin applies WithRequestMetadata to every API request.
func (s *Server) withOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMetadata(r.Context(), r)))
	})
}
