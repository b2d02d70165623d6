package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.uber.org/zap"
)

// Syncer syncs the entities of a Source into a Store, either by walking the
// Source in batches, or by applying single webhook events.
type Syncer struct {
	Source
	Store

	logger   *zap.Logger
	metrics  *Metrics
	pageSize int
	users    string
	now      func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// RecordError is the failure to reconcile a single record.
type RecordError struct {
	ExternalID string
	Err        error
}

// Run is the result of syncing a single Entity.
type Run struct {
	ID     uuid.UUID
	Entity string
	State  RunState

	// Err is the error that aborted the run, if any.
	Err error

	Cursor  string
	Seen    int
	Fetched int
	Pages   int

	Created int
	Updated int
	Stale   int
	Linked  int64
	Errors  []RecordError

	StartedAt  time.Time
	FinishedAt time.Time

	// Records are the fetched records, these are only kept when the records
	// are not saved.
	Records []json.RawMessage
}

// WithLogger sets the logger of the Syncer.
func WithLogger(log *zap.Logger) Option {
	return func(s *Syncer) {
		s.logger = log
	}
}

// WithMetrics sets the metrics updated by the Syncer.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithPageSize sets the number of records requested per page.
func WithPageSize(n int) Option {
	return func(s *Syncer) {
		s.pageSize = n
	}
}

// WithUsersTable sets the table customers are linked to by email, this
// defaults to users.
func WithUsersTable(table string) Option {
	return func(s *Syncer) {
		s.users = table
	}
}

// New returns a Syncer for syncing the given Source into the given Store.
func New(src Source, st Store, opts ...Option) *Syncer {
	s := &Syncer{
		Source:   src,
		Store:    st,
		logger:   zap.NewNop(),
		pageSize: MaxPageSize,
		users:    "users",
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (e RecordError) Error() string {
	if e.ExternalID == "" {
		return e.Err.Error()
	}
	return e.ExternalID + ": " + e.Err.Error()
}

func (e RecordError) Unwrap() error { return e.Err }

func (r *Run) fail(id string, err error) {
	r.Errors = append(r.Errors, RecordError{
		ExternalID: id,
		Err:        err,
	})
}

func (r *Run) count(o Outcome) {
	switch o {
	case Created:
		r.Created++
	case Updated:
		r.Updated++
	case Stale:
		r.Stale++
	}
}

// Succeeded reports whether the run finished without aborting, and without
// any record failing.
func (r *Run) Succeeded() bool {
	return r.State != StateAborted && len(r.Errors) == 0
}

func (s *Syncer) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

func (s *Syncer) usersTable() string {
	if s.users == "" {
		return "users"
	}
	return s.users
}

func (s *Syncer) walker() Walker {
	return Walker{
		Source:   s.Source,
		PageSize: s.pageSize,
	}
}

func (s *Syncer) reconciler(log *zap.Logger) Reconciler {
	return Reconciler{
		Store: s.Store,
		Log:   log,
	}
}

// fetch obtains the raw records of the Entity, either by retrieving each of
// the IDs in the Options, by discovering them, or by walking the Entity's
// endpoint.
func (s *Syncer) fetch(ctx context.Context, e Entity, o Options, run *Run) ([]json.RawMessage, error) {
	if len(o.IDs) > 0 {
		if e.Endpoint == "" {
			return nil, fmt.Errorf("%w: %s cannot be retrieved by id", ErrValidation, e.Name)
		}

		var params Params

		if len(e.Expand) > 0 {
			params = Params{"expand": e.Expand}
		}

		records := make([]json.RawMessage, 0, len(o.IDs))

		for _, id := range o.IDs {
			raw, err := s.Retrieve(ctx, e.Endpoint, id, params)

			if err != nil {
				if errors.Is(err, ErrNotFound) {
					run.fail(id, err)
					continue
				}
				return records, err
			}

			run.Seen++
			records = append(records, raw)
		}
		return records, nil
	}

	if e.Discover != nil {
		return e.Discover(ctx, s, o, run)
	}

	walk, err := s.walker().Walk(ctx, e.Endpoint, e.params(o), o.Limit, e.filter(o))

	run.Cursor = walk.Cursor
	run.Seen = walk.Seen
	run.Pages = walk.Pages
	run.State = walk.State

	return walk.Records, err
}

// Sync syncs the given Entity. If the Options do not save the records then
// they are only fetched, and returned in the Run. Otherwise each record is
// projected, and reconciled in the order it was received. A record that
// fails is recorded in the Run and the rest of the records are still
// reconciled. If the sync is aborted, for example because authentication
// failed, then the Run is returned along with the error that aborted it, the
// records reconciled before that remain in the Store.
func (s *Syncer) Sync(ctx context.Context, e Entity, o Options) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		Entity:    e.Name,
		State:     StateCompleted,
		Errors:    make([]RecordError, 0),
		StartedAt: s.now(),
	}

	log := s.log().With(zap.String("entity", e.Name), zap.String("run", run.ID.String()))

	log.Info("sync started", zap.Int("limit", o.Limit), zap.Bool("save", o.Save))

	records, err := s.fetch(ctx, e, o, run)

	run.Fetched = len(records)

	if err != nil {
		return s.abort(ctx, log, run, o, err)
	}

	if !o.Save {
		run.Records = records
		return s.finish(ctx, log, run, o), nil
	}

	rc := s.reconciler(log)

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return s.abort(ctx, log, run, o, err)
		}

		rec, err := e.Project(raw, run.StartedAt)

		if err != nil {
			if rec.ExternalID == "" {
				rec.ExternalID, _ = recordID(raw)
			}

			log.Warn("failed to project record", zap.String("external_id", rec.ExternalID), zap.Error(err))
			run.fail(rec.ExternalID, err)
			s.metrics.record(e.Name, "error")
			continue
		}

		if e.Enrich != nil {
			e.Enrich(ctx, s, o, &rec)
		}

		outcome, err := rc.Reconcile(ctx, e.Table, rec)

		if err != nil {
			log.Warn("failed to reconcile record", zap.String("external_id", rec.ExternalID), zap.Error(err))
			run.fail(rec.ExternalID, err)
			s.metrics.record(e.Name, "error")
			continue
		}

		run.count(outcome)
		s.metrics.record(e.Name, outcome.String())
	}

	if len(e.Refs) > 0 {
		n, err := rc.Resolve(ctx, e.Refs)

		run.Linked = n

		if err != nil {
			return s.abort(ctx, log, run, o, fmt.Errorf("link references: %w", err))
		}
	}
	return s.finish(ctx, log, run, o), nil
}

func (s *Syncer) abort(ctx context.Context, log *zap.Logger, run *Run, o Options, err error) (*Run, error) {
	run.State = StateAborted
	run.Err = err

	log.Error("sync aborted", zap.Error(err))

	s.finish(ctx, log, run, o)
	return run, err
}

// finish records the end of the Run. The Run is only logged to the Store if
// the records were saved.
func (s *Syncer) finish(ctx context.Context, log *zap.Logger, run *Run, o Options) *Run {
	run.FinishedAt = s.now()

	s.metrics.run(run.Entity, run.State, run.FinishedAt.Sub(run.StartedAt))

	if o.Save {
		// The context may be the reason the run was aborted.
		if err := s.LogRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("failed to log sync run", zap.Error(err))
		}
	}

	log.Info("sync finished",
		zap.String("state", string(run.State)),
		zap.Int("fetched", run.Fetched),
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated),
		zap.Int("stale", run.Stale),
		zap.Int("errors", len(run.Errors)),
	)
	return run
}

// SyncAll syncs each of the given entities in turn. A failed entity does not
// stop the entities after it from being synced, unless authentication failed
// or the context was cancelled. The returned error joins the errors of every
// entity that was aborted.
func (s *Syncer) SyncAll(ctx context.Context, entities []Entity, o Options) ([]*Run, error) {
	runs := make([]*Run, 0, len(entities))
	errs := make([]error, 0)

	for _, e := range entities {
		run, err := s.Sync(ctx, e, o)

		runs = append(runs, run)

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))

			if errors.Is(err, ErrAuthentication) || ctx.Err() != nil {
				break
			}
		}
	}
	return runs, errors.Join(errs...)
}
