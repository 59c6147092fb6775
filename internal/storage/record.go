package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// timestampLayout is ISO-8601 with millisecond precision, always in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Record is a stored entity: an id, a write timestamp, and an opaque payload.
// Its JSON form flattens Fields next to "id" and "timestamp".
type Record struct {
	ID        string
	Timestamp string
	Fields    map[string]any
}

// Category returns the value indexed by IndexCategory.
func (r Record) Category() string {
	if v, ok := r.Fields["category"].(string); ok {
		return v
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	if r.Timestamp != "" {
		out["timestamp"] = r.Timestamp
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Numeric ids are accepted and
// kept in their shortest decimal form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("%w: record must be a JSON object", ErrInvalidRecord)
	}

	rec := Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "id":
			id, err := idString(v)
			if err != nil {
				return err
			}
			rec.ID = id
		case "timestamp":
			ts, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: timestamp must be a string", ErrInvalidRecord)
			}
			rec.Timestamp = ts
		default:
			rec.Fields[k] = v
		}
	}
	*r = rec
	return nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: id must be a string or number", ErrInvalidRecord)
	}
}

// FormatTimestamp renders t the way the store auto-assigns timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// normalizeTimestamp rewrites a parseable RFC 3339 timestamp in the stored
// layout so the timestamp index orders by instant. Anything else is kept.
func normalizeTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return FormatTimestamp(t)
}

// later reports whether a was written after b according to their timestamps.
// Unparseable timestamps fall back to lexical comparison.
func later(a, b Record) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a.Timestamp)
	tb, errB := time.Parse(time.RFC3339Nano, b.Timestamp)
	if errA == nil && errB == nil {
		return !ta.Before(tb)
	}
	return a.Timestamp >= b.Timestamp
}
