// Package types defines the shared domain model for the SoilWatch platform:
// observation records, query filters, the calendar-date scalar used as part of
// the record identity key, and the application error taxonomy.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage representation of a calendar date.
// Dates are stored as ISO-8601 text in SQLite so that lexicographic BETWEEN
// comparisons match chronological order.
const DateLayout = "2006-01-02"

// Date is a calendar date with no time component. The zero value is the zero
// time.Time and marshals as "0001-01-01".
//
// Date is part of the record identity key (date, lat, lon), so it must
// round-trip exactly through JSON and the database; both representations use
// DateLayout.
type Date struct {
	t time.Time
}

// NewDate constructs a Date from a year, month, and day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time.Time to its calendar date in UTC.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses an ISO-8601 date string ("YYYY-MM-DD").
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// String returns the ISO-8601 representation.
func (d Date) String() string {
	return d.t.Format(DateLayout)
}

// Time returns the date as a UTC midnight time.Time.
func (d Date) Time() time.Time {
	return d.t
}

// After reports whether d is chronologically after other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// Equal reports whether two dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// MarshalJSON encodes the date as a quoted ISO-8601 string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a quoted ISO-8601 date string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SoilMoistureRecord is one gridded soil-moisture observation. The triple
// (Date, Lat, Lon) is the identity key: re-ingesting the same key replaces
// the stored row (last-write-wins).
//
// Moisture preserves the source units. The upstream composite uses a sentinel
// value (-9999.0) for cells with no retrieval; the sentinel passes through
// ingestion unchanged and filtering it is the consumer's concern.
type SoilMoistureRecord struct {
	Date     Date    `json:"date"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Moisture float64 `json:"moisture"`
}

// MoistureQuery filters stored observations. Coordinates match by exact
// floating-point equality (a documented contract of the dataset's fixed grid,
// not a spatial search); the date range is a closed interval
// [StartDate, EndDate]. A start after the end matches nothing and is not an
// error.
type MoistureQuery struct {
	Lat       float64
	Lon       float64
	StartDate Date
	EndDate   Date
}

// UpdateStatus describes the result category of a secure-update check.
type UpdateStatus string

const (
	// UpdateStatusCurrent means the trusted metadata is already up to date.
	UpdateStatusCurrent UpdateStatus = "current"
	// UpdateStatusApplied means new metadata was fetched, verified, and
	// committed.
	UpdateStatusApplied UpdateStatus = "applied"
)

// UpdateOutcome is the result contract of a secure-update check. The
// verification protocol behind it (root pinning, signed metadata, target
// commit) is delegated to the Checker implementation.
type UpdateOutcome struct {
	Status  UpdateStatus `json:"status"`
	Applied bool         `json:"applied"`
	Detail  string       `json:"detail,omitempty"`
}
