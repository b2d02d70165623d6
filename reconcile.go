package stripesync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Reconciler converges a Store toward the records received from Stripe.
type Reconciler struct {
	Store

	Log *zap.Logger
}

func (r Reconciler) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Reconcile upserts the given Record into the table. A conflict is retried
// once, since the conflicting write will be visible to the second attempt, if
// it conflicts again then ErrConflict is returned.
func (r Reconciler) Reconcile(ctx context.Context, table string, rec Record) (Outcome, error) {
	o, err := r.Upsert(ctx, table, rec)

	if errors.Is(err, ErrConflict) {
		r.log().Warn("retrying conflicting upsert",
			zap.String("table", table),
			zap.String("external_id", rec.ExternalID),
			zap.Error(err),
		)
		o, err = r.Upsert(ctx, table, rec)
	}
	return o, err
}

// Resolve links every given Ref, and returns the total number of rows that
// changed.
func (r Reconciler) Resolve(ctx context.Context, refs []Ref) (int64, error) {
	var n int64

	for _, ref := range refs {
		linked, err := r.Link(ctx, ref)

		if err != nil {
			return n, err
		}
		n += linked
	}
	return n, nil
}
