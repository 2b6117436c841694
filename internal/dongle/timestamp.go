package dongle

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the wall clock format of last_toggle, local time, second precision.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a local time truncated to seconds, encoded with TimestampLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to seconds in local time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Local().Truncate(time.Second)}
}

// Next returns a timestamp for now that is strictly after prev.
// Two toggles inside the same second would otherwise share a stamp.
func Next(now time.Time, prev *Timestamp) Timestamp {
	ts := NewTimestamp(now)
	if prev != nil && !ts.After(prev.Time) {
		ts = Timestamp{Time: prev.Add(time.Second)}
	}
	return ts
}

// String implements fmt.Stringer.
func (t Timestamp) String() string {
	return t.Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler. RFC3339 values are accepted too.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	parsed, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
	}
	*t = NewTimestamp(parsed)
	return nil
}
