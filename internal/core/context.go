package core

import "context"

// SystemActor is recorded when no operator identity reached the service.
const SystemActor = "SYSTEM"

// Origin identifies who asked for a change and from where.
type Origin struct {
	Actor     string
	Address   string
	UserAgent string
}

type originKey struct{}

// WithOrigin attaches o to ctx for the audit trail.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin stored in ctx. Actor is never empty.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	if o.Actor == "" {
		o.Actor = SystemActor
	}
	return o
}

// stamp fills the request origin fields of e.
func stamp(ctx context.Context, e *AuditEntry) *AuditEntry {
	o := OriginFrom(ctx)
	e.Actor = o.Actor
	e.OriginAddress = o.Address
	e.UserAgent = o.UserAgent
	return e
}
