package types

import (
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a millisecond-precision instant, stored as ms since the Unix
// epoch in the database and rendered as ISO-8601 UTC on the wire.
type Timestamp int64

// isoFormat renders with fixed millisecond precision so that round-tripped
// values compare equal.
const isoFormat = "2006-01-02T15:04:05.000Z"

// Clock supplies the current time. Tests inject a fixed or stepped clock to
// exercise TTL behavior deterministically.
type Clock func() time.Time

// Now returns the current instant.
func Now() Timestamp {
	return At(time.Now())
}

// At converts a time.Time to a Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// ISO renders the timestamp as an ISO-8601 string in UTC.
func (ts Timestamp) ISO() string {
	return ts.Time().Format(isoFormat)
}

// ParseISO parses an ISO-8601 string into a Timestamp.
func ParseISO(s string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return At(t), nil
}

// Add shifts the timestamp by a duration.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return ts + Timestamp(d.Milliseconds())
}

// Sub returns the duration between two timestamps.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(int64(ts)-int64(other)) * time.Millisecond
}

// Before reports whether ts precedes other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts < other
}

// After reports whether ts follows other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts > other
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts == 0
}

// Millis returns the raw millisecond value for database storage.
func (ts Timestamp) Millis() int64 {
	return int64(ts)
}

// MarshalJSON renders the timestamp as an ISO-8601 string.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(ts.ISO())), nil
}

// UnmarshalJSON accepts either an ISO-8601 string or a raw millisecond
// integer. The integer form appears when replaying payloads written by older
// tooling that serialized DB values directly.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("failed to parse timestamp: empty input")
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("failed to parse timestamp %s: %w", data, err)
		}
		parsed, err := ParseISO(s)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse timestamp %s: %w", data, err)
	}
	*ts = Timestamp(ms)
	return nil
}
