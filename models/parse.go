package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingValue     = errors.New("value is missing")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

// Measurement is a sensor value that may be absent. The backend sends numbers,
// numeric strings, null or nothing at all depending on the endpoint.
type Measurement struct {
	Value float64
	Valid bool
}

// Some returns a present measurement.
func Some(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// Missing returns an absent measurement.
func Missing() Measurement {
	return Measurement{}
}

// ParseMeasurement converts a decoded JSON value into a Measurement.
// Anything that is not a finite, non-negative number is reported as missing.
func ParseMeasurement(raw interface{}) Measurement {
	var f float64
	switch v := raw.(type) {
	case nil:
		return Missing()
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return Missing()
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return Missing()
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing()
		}
		f = parsed
	default:
		return Missing()
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Missing()
	}
	return Some(f)
}

// Float returns the value or ErrMissingValue.
func (m Measurement) Float() (float64, error) {
	if !m.Valid {
		return 0, ErrMissingValue
	}
	return m.Value, nil
}

func (m *Measurement) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		*m = Missing()
		return nil
	}
	*m = ParseMeasurement(raw)
	return nil
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// ID is an upstream identifier. FastAPI returns integer keys for some
// resources and strings for others; both decode to the same form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp attempts to parse a timestamp string into time.Time.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// Timestamp decodes the timestamp layouts the backend emits. Unparseable values
// decode to the zero time instead of failing the whole payload.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs json.Number
		if err := json.Unmarshal(data, &secs); err == nil {
			if n, err := secs.Int64(); err == nil {
				t.Time = time.Unix(n, 0).UTC()
				return nil
			}
		}
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}
