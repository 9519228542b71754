// Package sqlutil holds the small sql.Null* conversion helpers every
// store function in this repository uses, consolidated in one place the
// way the teacher's own framework core package does.
package sqlutil

import (
	"database/sql"
	"time"
)

// ToNullString converts s to sql.NullString, treating "" as NULL.
func ToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromNullString extracts ns, returning "" if NULL.
func FromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ToNullInt64 converts i to sql.NullInt64, treating 0 as NULL.
func ToNullInt64(i int64) sql.NullInt64 {
	return sql.NullInt64{Int64: i, Valid: i != 0}
}

// FromNullInt64 extracts ni, returning 0 if NULL.
func FromNullInt64(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

// ToNullTime converts t to sql.NullTime, treating the zero time as NULL.
func ToNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// FromNullTime extracts nt, returning the zero time if NULL.
func FromNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}

// PtrToNullTime converts an optional *time.Time to sql.NullTime.
func PtrToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// NullTimeToPtr converts sql.NullTime to an optional *time.Time.
func NullTimeToPtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
