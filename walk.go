package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RunState is the terminal state of a walk, or of a sync run.
type RunState string

// Filter reports whether a raw record should be kept. Filters are applied on
// the client for the filters that the Stripe API does not support.
type Filter func(json.RawMessage) bool

// Walker drives a Source through the pages of a list endpoint.
type Walker struct {
	Source

	// PageSize is the number of records requested per page. Values outside of
	// (0, MaxPageSize] are treated as MaxPageSize.
	PageSize int
}

// Walk is the result of walking a list endpoint.
type Walk struct {
	Records []json.RawMessage // Records that passed the filter.
	Cursor  string            // Cursor is the ID of the last raw record seen.
	Seen    int               // Seen is the number of raw records received.
	Pages   int
	State   RunState
}

const (
	StateCompleted        RunState = "completed"
	StateExhaustedAtLimit RunState = "exhausted-at-limit"
	StateAborted          RunState = "aborted-on-error"
)

var errMissingID = errors.New("record has no id")

func recordID(raw json.RawMessage) (string, error) {
	var v struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}

	if v.ID == "" {
		return "", errMissingID
	}
	return v.ID, nil
}

func (w Walker) pageSize() int {
	if w.PageSize <= 0 || w.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return w.PageSize
}

// Walk pages through the given endpoint until Stripe reports there are no more
// records, or until limit records have been kept by the filter. A negative
// limit walks the entire list, and a limit of zero makes no requests. The
// cursor for each page is taken from the last raw record of the previous page,
// so records dropped by the filter are never skipped over. If an error occurs
// then the partial Walk is returned along with it.
func (w Walker) Walk(ctx context.Context, endpoint string, params Params, limit int, filter Filter) (Walk, error) {
	walk := Walk{
		Records: make([]json.RawMessage, 0),
		State:   StateCompleted,
	}

	if limit == 0 {
		return walk, nil
	}

	for {
		size := w.pageSize()

		if limit > 0 && limit-len(walk.Records) < size {
			size = limit - len(walk.Records)
		}

		page, err := w.List(ctx, ListRequest{
			Endpoint: endpoint,
			Params:   params,
			Cursor:   walk.Cursor,
			Limit:    size,
		})

		if err != nil {
			return walk, err
		}

		walk.Pages++

		if len(page.Data) == 0 {
			break
		}

		walk.Seen += len(page.Data)

		for _, raw := range page.Data {
			if filter != nil && !filter(raw) {
				continue
			}
			walk.Records = append(walk.Records, raw)
		}

		id, err := recordID(page.Data[len(page.Data)-1])

		if err != nil {
			return walk, fmt.Errorf("%s page %d: %w", endpoint, walk.Pages, err)
		}

		walk.Cursor = id

		if !page.HasMore {
			break
		}

		if limit > 0 && len(walk.Records) >= limit {
			walk.State = StateExhaustedAtLimit
			break
		}
	}
	return walk, nil
}
