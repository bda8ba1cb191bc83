// Package snapshot implements the optional, explicitly non-durable debug
// sink of SPEC_FULL.md §4.7: a best-effort mirror of PE instance state into
// Postgres for inspection, never consulted for replay or recovery. Enabling
// it never changes pipeline semantics — Record failures are logged and
// swallowed.
package snapshot

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/observability"
)

// Sink records PE instance state for debug inspection. Nil-safe: a nil *Sink
// is the default disabled configuration and Record on it is a no-op.
type Sink struct {
	pool *pgxpool.Pool
}

// Disabled returns a Sink with no backing store. Record is a no-op.
func Disabled() *Sink { return nil }

// Open connects to dsn and applies the sink's own migrations. The snapshot
// feature is entirely optional (§9 Non-goals): any failure here is returned
// to the caller so node startup can decide whether to proceed without it.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	if err := applyMigrations(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("snapshot/open", errs.CodeStorage, errs.WithCause(err))
	}
	return &Sink{pool: pool}, nil
}

// Record upserts the current state of one PE instance. Best-effort: errors
// are logged, never propagated, since the sink is explicitly non-durable and
// must never affect pipeline delivery semantics.
func (s *Sink) Record(ctx context.Context, prototype, instance string, eventCount uint64, state []byte) {
	if s == nil || s.pool == nil {
		return
	}
	const stmt = `
INSERT INTO pe_state_snapshots (prototype, instance, event_count, state, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (prototype, instance)
DO UPDATE SET event_count = EXCLUDED.event_count, state = EXCLUDED.state, recorded_at = EXCLUDED.recorded_at
`
	_, err := s.pool.Exec(ctx, stmt, prototype, instance, eventCount, state, time.Now())
	if err != nil {
		observability.Log().Error("snapshot record failed",
			observability.Field{Key: "prototype", Value: prototype},
			observability.Field{Key: "instance", Value: instance},
			observability.Field{Key: "error", Value: err})
	}
}

// Close releases the underlying connection pool. Safe to call on a nil Sink.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
