package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func testRecords(n int, fn func(i int) string) []string {
	objs := make([]string, 0, n)

	for i := 1; i <= n; i++ {
		objs = append(objs, fn(i))
	}
	return objs
}

func Test_Walk(t *testing.T) {
	even := func(raw json.RawMessage) bool {
		var v struct {
			N int `json:"n"`
		}
		json.Unmarshal(raw, &v)
		return v.N%2 == 0
	}

	tests := []struct {
		total    int
		pageSize int
		limit    int
		filter   Filter

		expectedRecords  int
		expectedRequests int
		expectedCursor   string
		expectedState    RunState
	}{
		{0, 10, -1, nil, 0, 1, "", StateCompleted},
		{5, 10, 0, nil, 0, 0, "", StateCompleted},
		{25, 10, -1, nil, 25, 3, "rec_25", StateCompleted},
		{25, 10, 12, nil, 12, 2, "rec_12", StateExhaustedAtLimit},
		{25, 10, 25, nil, 25, 3, "rec_25", StateCompleted},
		{10, 10, 10, nil, 10, 1, "rec_10", StateCompleted},
		{25, 10, 6, even, 6, 4, "rec_12", StateExhaustedAtLimit},
		{25, 10, -1, even, 12, 3, "rec_25", StateCompleted},
		{25, 0, 5, nil, 5, 1, "rec_5", StateExhaustedAtLimit},
	}

	for i, test := range tests {
		src := newTestSource()
		src.add(productEndpoint, testRecords(test.total, func(n int) string {
			return fmt.Sprintf(`{"id":"rec_%d","n":%d}`, n, n)
		})...)

		w := Walker{Source: src, PageSize: test.pageSize}

		walk, err := w.Walk(context.Background(), productEndpoint, nil, test.limit, test.filter)

		if err != nil {
			t.Fatalf("tests[%d] - unexpected error: %s\n", i, err)
		}

		if len(walk.Records) != test.expectedRecords {
			t.Errorf("tests[%d] - unexpected records, expected=%d, got=%d\n", i, test.expectedRecords, len(walk.Records))
		}

		if len(src.requests) != test.expectedRequests {
			t.Errorf("tests[%d] - unexpected requests, expected=%d, got=%d\n", i, test.expectedRequests, len(src.requests))
		}

		if walk.Cursor != test.expectedCursor {
			t.Errorf("tests[%d] - unexpected cursor, expected=%q, got=%q\n", i, test.expectedCursor, walk.Cursor)
		}

		if walk.State != test.expectedState {
			t.Errorf("tests[%d] - unexpected state, expected=%q, got=%q\n", i, test.expectedState, walk.State)
		}

		if test.limit > 0 && len(walk.Records) > test.limit {
			t.Errorf("tests[%d] - walk exceeded limit %d with %d records\n", i, test.limit, len(walk.Records))
		}
	}
}

func Test_WalkRequestSize(t *testing.T) {
	src := newTestSource()
	src.add(priceEndpoint, testRecords(250, func(n int) string {
		return fmt.Sprintf(`{"id":"price_%d"}`, n)
	})...)

	w := Walker{Source: src}

	walk, err := w.Walk(context.Background(), priceEndpoint, Params{"active": true}, 150, nil)

	if err != nil {
		t.Fatal(err)
	}

	if len(walk.Records) != 150 {
		t.Fatalf("unexpected records, expected=%d, got=%d\n", 150, len(walk.Records))
	}

	expected := []struct {
		cursor string
		limit  int
	}{
		{"", 100},
		{"price_100", 50},
	}

	if len(src.requests) != len(expected) {
		t.Fatalf("unexpected requests, expected=%d, got=%d\n", len(expected), len(src.requests))
	}

	for i, req := range src.requests {
		if req.Cursor != expected[i].cursor {
			t.Errorf("requests[%d] - unexpected cursor, expected=%q, got=%q\n", i, expected[i].cursor, req.Cursor)
		}

		if req.Limit != expected[i].limit {
			t.Errorf("requests[%d] - unexpected limit, expected=%d, got=%d\n", i, expected[i].limit, req.Limit)
		}
	}
}

func Test_WalkError(t *testing.T) {
	src := newTestSource()
	src.errs[productEndpoint] = &Error{Status: 401}

	w := Walker{Source: src}

	_, err := w.Walk(context.Background(), productEndpoint, nil, -1, nil)

	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("unexpected error, expected=%q, got=%v\n", ErrAuthentication, err)
	}
}

func Test_WalkMissingID(t *testing.T) {
	src := newTestSource()
	src.add(productEndpoint, `{"name":"no id"}`)

	w := Walker{Source: src}

	walk, err := w.Walk(context.Background(), productEndpoint, nil, -1, nil)

	if !errors.Is(err, errMissingID) {
		t.Fatalf("unexpected error, expected=%q, got=%v\n", errMissingID, err)
	}

	if walk.Seen != 1 {
		t.Fatalf("unexpected seen, expected=%d, got=%d\n", 1, walk.Seen)
	}
}

// pagedSource returns pre-built pages in order, regardless of the request.
type pagedSource struct {
	pages    []Page
	requests []ListRequest
}

func (s *pagedSource) List(_ context.Context, req ListRequest) (Page, error) {
	s.requests = append(s.requests, req)

	if len(s.requests) > len(s.pages) {
		return Page{}, errors.New("unexpected request")
	}
	return s.pages[len(s.requests)-1], nil
}

func (s *pagedSource) Retrieve(context.Context, string, string, Params) (json.RawMessage, error) {
	return nil, ErrNotFound
}

func testPage(from, n int, more bool) Page {
	data := make([]json.RawMessage, 0, n)

	for i := from; i < from+n; i++ {
		data = append(data, json.RawMessage(fmt.Sprintf(`{"id":"rec_%d","n":%d}`, i, i)))
	}
	return Page{Data: data, HasMore: more}
}

func Test_WalkExhaustion(t *testing.T) {
	src := &pagedSource{
		pages: []Page{
			testPage(1, 100, true),
			testPage(101, 100, true),
			testPage(201, 37, true),
			{HasMore: false},
		},
	}

	walk, err := Walker{Source: src}.Walk(context.Background(), productEndpoint, nil, -1, nil)

	if err != nil {
		t.Fatal(err)
	}

	if len(walk.Records) != 237 {
		t.Fatalf("unexpected records, expected=%d, got=%d\n", 237, len(walk.Records))
	}

	if len(src.requests) != 4 {
		t.Fatalf("unexpected requests, expected=%d, got=%d\n", 4, len(src.requests))
	}

	if walk.Cursor != "rec_237" {
		t.Fatalf("unexpected cursor, expected=%q, got=%q\n", "rec_237", walk.Cursor)
	}

	if walk.State != StateCompleted {
		t.Fatalf("unexpected state, expected=%q, got=%q\n", StateCompleted, walk.State)
	}
}

func Test_WalkFilteredCursor(t *testing.T) {
	src := &pagedSource{
		pages: []Page{
			testPage(1, 10, true),
			testPage(11, 10, false),
		},
	}

	// Keeps 4 of the first 10 records.
	keep := func(raw json.RawMessage) bool {
		var v struct {
			N int `json:"n"`
		}
		json.Unmarshal(raw, &v)
		return v.N <= 4 || v.N > 10
	}

	walk, err := Walker{Source: src, PageSize: 10}.Walk(context.Background(), productEndpoint, nil, 20, keep)

	if err != nil {
		t.Fatal(err)
	}

	if len(src.requests) != 2 {
		t.Fatalf("unexpected requests, expected=%d, got=%d\n", 2, len(src.requests))
	}

	if cursor := src.requests[1].Cursor; cursor != "rec_10" {
		t.Fatalf("unexpected cursor for second page, expected=%q, got=%q\n", "rec_10", cursor)
	}

	if len(walk.Records) != 14 {
		t.Fatalf("unexpected records, expected=%d, got=%d\n", 14, len(walk.Records))
	}
}
