package query

import (
	"strings"
	"time"
)

// InvalidInputError reports malformed CLI input (date or keyword), rejected
// before any network call.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// DateRange spans a single calendar day, [00:00:00, 23:59:59] inclusive.
// Boundaries are evaluated in UTC: message dates arrive as Unix UTC seconds
// on the wire, so UTC is the one convention that does not shift with the
// host timezone.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDay parses an ISO-8601 calendar day (YYYY-MM-DD) into a DateRange.
func ParseDay(s string) (DateRange, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return DateRange{}, &InvalidInputError{Reason: "date must be YYYY-MM-DD"}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return DateRange{
		Start: start,
		End:   start.Add(24*time.Hour - time.Second),
	}, nil
}

// Contains reports whether t falls inside the range, bounds inclusive.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Day returns the range's calendar day in ISO-8601 form.
func (r DateRange) Day() string {
	return r.Start.Format("2006-01-02")
}
