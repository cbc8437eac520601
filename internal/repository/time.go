package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// storedTimeLayout keeps a fixed-width fraction so that stored timestamps
// sort lexically in chronological order. Range filters depend on it.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// nullableTime maps a nil timestamp to SQL NULL.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// timeColumn binds a scanned text column to the field it is parsed into.
type timeColumn struct {
	name string
	raw  string
	dst  *time.Time
}

func parseTimeColumns(table string, columns ...timeColumn) error {
	for _, column := range columns {
		parsed, err := parseTime(column.raw)
		if err != nil {
			return fmt.Errorf("parse %s %s: %w", table, column.name, err)
		}
		*column.dst = parsed
	}
	return nil
}

func parseNullableTime(table, name string, raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	parsed, err := parseTime(raw.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s %s: %w", table, name, err)
	}
	return &parsed, nil
}
