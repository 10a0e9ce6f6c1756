// internal/storage/timestamp.go
package storage

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

// Timestamp scans TIMESTAMP columns whether the driver hands back a
// time.Time (Postgres) or the text SQLite stored.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time = time.Time{}
		return nil
	case time.Time:
		ts.Time = v
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("storage: cannot scan %T into Timestamp", src)
	}
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("storage: unrecognized timestamp %q", s)
}
