package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andrewpillar/stripesync"
)

func Test_entities(t *testing.T) {
	tests := []struct {
		args     []string
		skip     string
		expected []string
		err      bool
	}{
		{nil, "", nil, false},
		{[]string{"prices", "products"}, "", []string{"prices", "products"}, false},
		{[]string{"prices", "products"}, "prices", []string{"products"}, false},
		{nil, "invoices, meters", nil, false},
		{[]string{"plans"}, "", nil, true},
		{nil, "plans", nil, true},
	}

	for i, test := range tests {
		ee, err := entities(test.args, test.skip)

		if test.err {
			if err == nil {
				t.Errorf("tests[%d] - expected error\n", i)
			}
			continue
		}

		if err != nil {
			t.Fatalf("tests[%d] - unexpected error: %s\n", i, err)
		}

		if test.expected == nil {
			all := stripesync.Entities()

			if test.skip == "" && len(ee) != len(all) {
				t.Errorf("tests[%d] - expected every entity, got=%d\n", i, len(ee))
			}

			for _, e := range ee {
				if strings.Contains(test.skip, e.Name) {
					t.Errorf("tests[%d] - expected %s to be skipped\n", i, e.Name)
				}
			}
			continue
		}

		if len(ee) != len(test.expected) {
			t.Fatalf("tests[%d] - unexpected entities, expected=%d, got=%d\n", i, len(test.expected), len(ee))
		}

		for j, name := range test.expected {
			if ee[j].Name != name {
				t.Errorf("tests[%d] - unexpected entity, expected=%q, got=%q\n", i, name, ee[j].Name)
			}
		}
	}
}

func Test_options(t *testing.T) {
	ids := filepath.Join(t.TempDir(), "ids")

	if err := os.WriteFile(ids, []byte("# resync\nprod_1\nprod_2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, rest, err := parseFlags([]string{"-limit", "-1", "-save", "-created", "2024-01-02", "-ids", ids, "products"})

	if err != nil {
		t.Fatal(err)
	}

	if len(rest) != 1 || rest[0] != "products" {
		t.Fatalf("unexpected args: %v\n", rest)
	}

	o, err := f.options()

	if err != nil {
		t.Fatal(err)
	}

	if o.Limit != -1 || !o.Save {
		t.Errorf("unexpected options: %+v\n", o)
	}

	if !o.CreatedSince.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created since: %s\n", o.CreatedSince)
	}

	if len(o.IDs) != 2 {
		t.Errorf("unexpected ids: %v\n", o.IDs)
	}

	f, _, err = parseFlags([]string{"-created", "yesterday"})

	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.options(); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func Test_report(t *testing.T) {
	run := &stripesync.Run{
		Entity:    "products",
		State:     stripesync.StateCompleted,
		Fetched:   1,
		StartedAt: time.Now(),
		Records:   []json.RawMessage{json.RawMessage(`{"id":"prod_1","name":"Pro","active":true}`)},
	}

	var buf bytes.Buffer

	report(&buf, []stripesync.Entity{stripesync.Products}, []*stripesync.Run{run}, stripesync.Options{}, false)

	out := buf.String()

	for _, s := range []string{"prod_1", "Pro", "NAME"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected report to contain %q\n%s", s, out)
		}
	}

	buf.Reset()

	run.Created = 1
	run.Records = nil

	report(&buf, []stripesync.Entity{stripesync.Products}, []*stripesync.Run{run}, stripesync.Options{Save: true}, false)

	if !strings.Contains(buf.String(), "CREATED") {
		t.Errorf("expected summary table\n%s", buf.String())
	}
}

func Test_reportPrices(t *testing.T) {
	run := &stripesync.Run{
		Entity:    "prices",
		State:     stripesync.StateCompleted,
		Fetched:   2,
		StartedAt: time.Now(),
		Records: []json.RawMessage{
			json.RawMessage(`{"id":"price_1","object":"price","active":true,"billing_scheme":"tiered","currency":"usd","product":"prod_1","type":"recurring","tiers":[{"up_to":10,"flat_amount":10000},{"up_to":null,"flat_amount":9000}]}`),
			json.RawMessage(`{"id":"price_2","object":"price","active":true,"billing_scheme":"per_unit","currency":"usd","product":{"id":"prod_2","object":"product","unit_label":"seat"},"type":"recurring","unit_amount":500,"transform_quantity":{"divide_by":10,"round":"up"}}`),
		},
	}

	var buf bytes.Buffer

	report(&buf, []stripesync.Entity{stripesync.Prices}, []*stripesync.Run{run}, stripesync.Options{}, false)

	out := buf.String()

	for _, s := range []string{"DISPLAY", "TIERS", "$100", "$100.00 for up to 10 units, $90.00", "$5.00 per 10 seats", "prod_2"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected report to contain %q\n%s", s, out)
		}
	}
}
