package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andrewpillar/stripesync"
)

// discard is the Store used when records are only shown. Nothing is written
// to it.
type discard struct{}

func (discard) Upsert(context.Context, string, stripesync.Record) (stripesync.Outcome, error) {
	return stripesync.Created, nil
}

func (discard) FindOne(context.Context, string, string, interface{}) (int64, bool, error) {
	return 0, false, nil
}

func (discard) Link(context.Context, stripesync.Ref) (int64, error) { return 0, nil }

func (discard) LogEvent(context.Context, string) error { return nil }

func (discard) LogRun(context.Context, *stripesync.Run) error { return nil }

func cell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case time.Time:
		return v.Format("2006-01-02")
	case string:
		if len(v) > 40 {
			return v[:37] + "..."
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

// resolved returns the cells for the resolved display of the given raw price.
func resolved(raw []byte) []string {
	p, err := stripesync.ParsePrice(raw)

	if err != nil {
		return []string{err.Error(), "-"}
	}

	res := p.Resolve()

	return []string{cell(nonEmpty(res.DisplayAmount)), cell(nonEmpty(res.TierDescription))}
}

func nonEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// records writes a table of the fetched records of a dry run. Prices are
// also shown with their resolved display amount and tiers.
func records(w io.Writer, e stripesync.Entity, run *stripesync.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := append([]string{"id"}, e.Columns...)

	prices := e.Name == stripesync.Prices.Name

	if prices {
		header = append(header, "display", "tiers")
	}

	fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t")))

	for _, raw := range run.Records {
		rec, err := e.Project(raw, run.StartedAt)

		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\n", rec.ExternalID, err)
			continue
		}

		cells := make([]string, 0, len(header))
		cells = append(cells, rec.ExternalID)

		for _, col := range e.Columns {
			cells = append(cells, cell(rec.Attrs[col]))
		}

		if prices {
			cells = append(cells, resolved(raw)...)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

func report(w io.Writer, ee []stripesync.Entity, runs []*stripesync.Run, o stripesync.Options, detailed bool) {
	byName := make(map[string]stripesync.Entity)

	for _, e := range ee {
		byName[e.Name] = e
	}

	if !o.Save {
		for _, run := range runs {
			fmt.Fprintf(w, "%s (%d fetched, %s)\n", run.Entity, run.Fetched, run.State)
			records(w, byName[run.Entity], run)
			fmt.Fprintln(w)
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

		fmt.Fprintln(tw, "ENTITY\tSTATE\tFETCHED\tCREATED\tUPDATED\tSTALE\tLINKED\tERRORS")

		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
				run.Entity, run.State, run.Fetched, run.Created, run.Updated, run.Stale, run.Linked, len(run.Errors))
		}
		tw.Flush()
	}

	for _, run := range runs {
		if run.Err != nil {
			fmt.Fprintf(w, "%s: aborted: %s\n", run.Entity, run.Err)
		}

		if !detailed {
			continue
		}

		for _, err := range run.Errors {
			fmt.Fprintf(w, "%s: %s\n", run.Entity, err)
		}
	}
}
