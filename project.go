package stripesync

import (
	"bytes"
	"encoding/json"
	"time"
)

// expandable is a reference to another Stripe object. Stripe will send either
// the ID of the object, or the object itself if it was expanded, this only
// keeps the ID.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string

		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandable(s)
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

// epoch converts the given Stripe timestamp into a time. Zero is treated as
// unset, and is returned as nil.
func epoch(sec int64) interface{} {
	if sec == 0 {
		return nil
	}
	return time.Unix(sec, 0).UTC()
}

func epochPtr(sec *int64) interface{} {
	if sec == nil {
		return nil
	}
	return epoch(*sec)
}

// rfc3339 parses the string timestamps used by the v2 API.
func rfc3339(s string) interface{} {
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)

	if err != nil {
		return nil
	}
	return t.UTC()
}

// blob returns the given JSON as a string for storing in a JSON column. Empty
// and null JSON is returned as nil.
func blob(raw json.RawMessage) interface{} {
	raw = bytes.TrimSpace(raw)

	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return string(raw)
}

// marshalBlob marshals v for storing in a JSON column.
func marshalBlob(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	b, err := json.Marshal(v)

	if err != nil {
		return nil
	}
	return blob(b)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// decode unmarshals the raw record into v, and returns the record's ID.
func decode(raw json.RawMessage, v interface{}) (string, error) {
	id, err := recordID(raw)

	if err != nil {
		return "", err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return id, err
	}
	return id, nil
}
