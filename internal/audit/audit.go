package audit

import (
	"context"

	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// Sink is an optional export destination for audit entries (analytics /
// long-term retention). The durable copy always lives in the main store;
// sinks are best-effort and must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e store.AuditEntry) error
}

type nopSink struct{}

func (nopSink) Send(context.Context, store.AuditEntry) error { return nil }

// Nop returns a sink that discards everything.
func Nop() Sink { return nopSink{} }
