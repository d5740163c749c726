// Package audit appends workflow events to the immutable audit trail.
package audit

import (
	"context"
	"log/slog"

	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

// Meta is the request-level context (client address, user agent) captured by
// the HTTP layer and attached to every entry recorded during the request.
type Meta struct {
	IPAddress string
	UserAgent string
}

type metaKey struct{}

func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFromContext(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}

// Recorder writes audit entries. Recording never fails the audited
// operation; persistence errors are logged and dropped.
type Recorder struct {
	store *store.Store
	log   *slog.Logger
}

func NewRecorder(st *store.Store, log *slog.Logger) *Recorder {
	return &Recorder{store: st, log: log}
}

func (r *Recorder) Record(ctx context.Context, e model.AuditEntry) {
	m := MetaFromContext(ctx)
	e.IPAddress, e.UserAgent = m.IPAddress, m.UserAgent
	if err := r.store.AppendAudit(ctx, &e); err != nil {
		r.log.Warn("audit append failed",
			"entity_type", e.EntityType, "entity_id", e.EntityID,
			"action", string(e.Action), "error", err)
	}
}
