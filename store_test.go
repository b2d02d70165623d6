package stripesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
)

// testRow is a single row in the testStore.
type testRow struct {
	id  int64
	rec Record
}

// testStore is an in memory Store that follows the semantics of PSQL.
type testStore struct {
	mu sync.Mutex

	next   int64
	tables map[string]map[string]*testRow

	// users maps an email to the local ID of a row in the users table.
	users map[string]int64

	// fail maps an external ID to the error returned when it is upserted.
	fail map[string]error

	// conflicts is the number of times an Upsert returns ErrConflict before
	// succeeding.
	conflicts int

	upserts int
	events  map[string]struct{}
	runs    []*Run
}

var _ Store = (*testStore)(nil)

func newTestStore() *testStore {
	return &testStore{
		tables: make(map[string]map[string]*testRow),
		users:  make(map[string]int64),
		fail:   make(map[string]error),
		events: make(map[string]struct{}),
	}
}

func (s *testStore) Upsert(_ context.Context, table string, r Record) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++

	if err, ok := s.fail[r.ExternalID]; ok {
		return 0, err
	}

	if s.conflicts > 0 {
		s.conflicts--
		return 0, ErrConflict
	}

	rows, ok := s.tables[table]

	if !ok {
		rows = make(map[string]*testRow)
		s.tables[table] = rows
	}

	row, ok := rows[r.ExternalID]

	if !ok {
		s.next++

		rows[r.ExternalID] = &testRow{
			id:  s.next,
			rec: r,
		}
		return Created, nil
	}

	if row.rec.Observed.After(r.Observed) {
		return Stale, nil
	}

	attrs := make(Attrs)

	// Columns not in the Record keep their value.
	for k, v := range row.rec.Attrs {
		attrs[k] = v
	}

	for k, v := range r.Attrs {
		attrs[k] = v
	}

	row.rec = Record{
		ExternalID: r.ExternalID,
		Attrs:      attrs,
		Observed:   r.Observed,
	}
	return Updated, nil
}

func (s *testStore) FindOne(_ context.Context, table, column string, value interface{}) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table == "users" {
		id, ok := s.users[fmt.Sprint(value)]
		return id, ok, nil
	}

	for _, row := range s.tables[table] {
		if row.rec.Attrs[column] == value {
			return row.id, true, nil
		}
	}
	return 0, false, nil
}

func (s *testStore) Link(_ context.Context, ref Ref) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64

	for _, row := range s.tables[ref.Table] {
		var want interface{}

		if ext, ok := row.rec.Attrs[ref.Column].(string); ok {
			if target, ok := s.tables[ref.Target][ext]; ok {
				want = target.id
			}
		}

		if row.rec.Attrs[ref.IDColumn] != want {
			row.rec.Attrs[ref.IDColumn] = want
			n++
		}
	}
	return n, nil
}

func (s *testStore) LogEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; ok {
		return ErrEventExists
	}
	s.events[id] = struct{}{}
	return nil
}

func (s *testStore) LogRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, run)
	return nil
}

func (s *testStore) row(table, id string) (*testRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tables[table][id]
	return row, ok
}

func (s *testStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tables[table])
}

// testSource is an in memory Source. Each endpoint holds the records in the
// order they are listed.
type testSource struct {
	mu sync.Mutex

	records map[string][]json.RawMessage

	// errs maps an endpoint to the error returned when it is listed.
	errs map[string]error

	requests []ListRequest
}

var _ Source = (*testSource)(nil)

func newTestSource() *testSource {
	return &testSource{
		records: make(map[string][]json.RawMessage),
		errs:    make(map[string]error),
	}
}

func (s *testSource) add(endpoint string, objs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range objs {
		s.records[endpoint] = append(s.records[endpoint], json.RawMessage(obj))
	}
}

func (s *testSource) List(_ context.Context, req ListRequest) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if err, ok := s.errs[req.Endpoint]; ok {
		return Page{}, err
	}

	records := s.records[req.Endpoint]

	start := 0

	if req.Cursor != "" {
		for i, raw := range records {
			if id, _ := recordID(raw); id == req.Cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + req.Limit

	if end > len(records) {
		end = len(records)
	}

	return Page{
		Data:    records[start:end],
		HasMore: end < len(records),
	}, nil
}

func (s *testSource) Retrieve(_ context.Context, endpoint, id string, _ Params) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, raw := range s.records[endpoint] {
		if rid, _ := recordID(raw); rid == id {
			return raw, nil
		}
	}
	return nil, &Error{Status: 404}
}

func Test_OutcomeString(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{Created, "created"},
		{Updated, "updated"},
		{Stale, "stale"},
		{Outcome(0), "unknown"},
	}

	for i, test := range tests {
		if s := test.outcome.String(); s != test.expected {
			t.Errorf("tests[%d] - unexpected outcome, expected=%q, got=%q\n", i, test.expected, s)
		}
	}
}

func Test_AttrsColumns(t *testing.T) {
	attrs := Attrs{
		"name":   "Pro",
		"active": true,
		"url":    nil,
	}

	cols := attrs.Columns()

	if !sort.StringsAreSorted(cols) {
		t.Fatalf("expected sorted columns, got=%v\n", cols)
	}

	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got=%d\n", len(cols))
	}
}

func Test_testStoreStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	rec := Record{ExternalID: "prod_1", Attrs: Attrs{"name": "new"}, Observed: testTime(10)}

	if _, err := store.Upsert(ctx, productTable, rec); err != nil {
		t.Fatal(err)
	}

	o, err := store.Upsert(ctx, productTable, Record{ExternalID: "prod_1", Attrs: Attrs{"name": "old"}, Observed: testTime(5)})

	if err != nil {
		t.Fatal(err)
	}

	if o != Stale {
		t.Fatalf("unexpected outcome, expected=%s, got=%s\n", Stale, o)
	}
}
