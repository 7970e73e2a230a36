package storage

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timeLayout is how timestamps are written. SQLite has no native datetime
// type so they are stored as TEXT; MySQL parses the same literal into
// DATETIME(6).
const timeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t in UTC in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Time scans timestamps written by FormatTime (SQLite returns the TEXT) or
// parsed by the driver (MySQL with parseTime=true returns time.Time).
type Time struct {
	time.Time
}

// Scan implements sql.Scanner.
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("storage: cannot scan %T into Time", src)
	}
}

// Value implements driver.Valuer.
func (t Time) Value() (driver.Value, error) {
	return FormatTime(t.Time), nil
}

func (t *Time) parse(s string) error {
	parsed, err := parseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("storage: parse time %q", s)
}
