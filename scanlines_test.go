package stripesync

import (
	"strings"
	"testing"
)

func Test_scanlines(t *testing.T) {
	s := `line_1
line_2

# commet
line_3




line_4`

	expected := []string{
		"line_1",
		"line_2",
		"line_3",
		"line_4",
	}

	actual := make([]string, 0, len(expected))

	err := scanlines(strings.NewReader(s), func(line string) {
		actual = append(actual, line)
	})

	if err != nil {
		t.Fatal(err)
	}

	if len(expected) != len(actual) {
		t.Fatalf("unexpected number of lines scanned, expected=%d, got=%d\n", len(expected), len(actual))
	}

	for i, s := range expected {
		if actual[i] != s {
			t.Errorf("unexpected string in scanned lines, expected=%q, got=%q\n", s, actual[i])
		}
	}
}

func Test_ReadIDs(t *testing.T) {
	s := `# products to resync
prod_123456
  prod_654321  

# archived
prod_999999`

	ids, err := ReadIDs(strings.NewReader(s))

	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"prod_123456", "prod_654321", "prod_999999"}

	if len(ids) != len(expected) {
		t.Fatalf("unexpected number of ids, expected=%d, got=%d\n", len(expected), len(ids))
	}

	for i, id := range expected {
		if ids[i] != id {
			t.Errorf("ids[%d] - unexpected id, expected=%q, got=%q\n", i, id, ids[i])
		}
	}
}
