package notes

import (
	"fmt"
	"strings"
	"time"
)

const (
	keyLayout       = "2006-01-02T15-04-05"
	timestampLayout = "2006-01-02T15:04:05"
	keySeparator    = "T"
)

// KeyCodec maps note timestamps to filesystem-safe identifiers and back.
// Timestamps are treated as naive wall-clock values in Location.
type KeyCodec struct {
	Location *time.Location
}

// NewKeyCodec returns a codec bound to location; nil selects time.Local.
func NewKeyCodec(location *time.Location) KeyCodec {
	if location == nil {
		location = time.Local
	}
	return KeyCodec{Location: location}
}

func (c KeyCodec) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Normalize reduces t to its wall clock in the codec location, truncated to
// whole seconds. Instants sharing a wall clock, such as the repeated hour at
// the end of daylight saving time, normalize to the same value.
func (c KeyCodec) Normalize(t time.Time) time.Time {
	location := c.location()
	local := t.In(location)
	year, month, day := local.Date()
	hour, minute, second := local.Clock()
	return time.Date(year, month, day, hour, minute, second, 0, location)
}

// Encode renders t as YYYY-MM-DDTHH-MM-SS. Sub-second precision is dropped.
func (c KeyCodec) Encode(t time.Time) string {
	return c.Normalize(t).Format(keyLayout)
}

// Decode parses an identifier produced by Encode. It never panics; malformed
// or non-canonical input yields ErrInvalidIdentifier.
func (c KeyCodec) Decode(id string) (time.Time, error) {
	parts := strings.Split(id, keySeparator)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	clock := strings.ReplaceAll(parts[1], "-", ":")
	parsed, err := time.ParseInLocation(timestampLayout, parts[0]+keySeparator+clock, c.location())
	if err != nil || parsed.Format(keyLayout) != id {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return parsed, nil
}

// FormatTimestamp renders t in the codec location as YYYY-MM-DDTHH:MM:SS.
func (c KeyCodec) FormatTimestamp(t time.Time) string {
	return c.Normalize(t).Format(timestampLayout)
}

// ParseTimestamp accepts RFC3339, YYYY-MM-DDTHH:MM:SS, or the identifier form
// and returns a second-precision timestamp in the codec location.
func (c KeyCodec) ParseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return c.Normalize(parsed), nil
	}
	if parsed, err := time.ParseInLocation(timestampLayout, trimmed, c.location()); err == nil {
		return c.Normalize(parsed), nil
	}
	return c.Decode(trimmed)
}
