package stripesync

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Outcome is the result of upserting a single record.
type Outcome int

const (
	Created Outcome = iota + 1
	Updated
	Stale
)

// Attrs are the projected columns of a record, keyed by column name. Each
// value should be something that can be passed to database/sql as an
// argument: strings, integers, booleans, time.Time, or nil.
type Attrs map[string]interface{}

// Record is a single record projected from Stripe and ready to be written to
// a Store.
type Record struct {
	ExternalID string
	Attrs      Attrs

	// Observed is when the state in the record was observed. For batch syncs
	// this is the start of the run, for webhooks this is when the event was
	// created. A Store should not overwrite a row that was observed later.
	Observed time.Time
}

// Ref is a reference from one table to another by external ID. The Column
// holds the external ID of the referenced record, and the IDColumn holds the
// local ID of that record once it exists.
type Ref struct {
	Table    string
	Column   string
	IDColumn string
	Target   string
}

// Store provides an interface for storing the records received from Stripe in
// an underlying data store such as a database.
type Store interface {
	// Upsert will insert the given Record into the given table, or update the
	// existing row with the same external ID. This should be atomic for each
	// record. If the existing row was observed after the given Record then
	// nothing is written and Stale is returned. A unique constraint violation
	// should be returned as ErrConflict.
	Upsert(ctx context.Context, table string, r Record) (Outcome, error)

	// FindOne returns the local ID of the first row in the table where the
	// column matches the given value. Whether or not the row could be found is
	// denoted by the returned bool value.
	FindOne(ctx context.Context, table, column string, value interface{}) (int64, bool, error)

	// Link sets the local ID column of the given Ref for every row whose
	// referenced record now exists, and clears it for those that do not. This
	// returns the number of rows that changed.
	Link(ctx context.Context, ref Ref) (int64, error)

	// LogEvent will store the given event ID in the underlying store. If the
	// given event ID already exists, then this should return ErrEventExists.
	LogEvent(ctx context.Context, id string) error

	// LogRun will store the summary of the given sync Run.
	LogRun(ctx context.Context, run *Run) error
}

var (
	ErrConflict    = errors.New("reconcile conflict")
	ErrEventExists = errors.New("event exists")
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Columns returns the sorted column names of the Attrs.
func (a Attrs) Columns() []string {
	cols := make([]string, 0, len(a))

	for col := range a {
		cols = append(cols, col)
	}

	sort.Strings(cols)
	return cols
}
