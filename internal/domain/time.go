package domain

import "time"

// TimestampLayout is the fixed-width UTC form of every stored created_at and
// updated_at. Stored timestamps are compared as text, so the fraction is
// never trimmed.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
