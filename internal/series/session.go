package series

import (
	"fmt"
	"time"

	"fib-targets/internal/models"
)

// SessionCalendar splits bars into trading sessions that open every day at
// Start (offset from local midnight) in Location.
type SessionCalendar struct {
	Location *time.Location
	Start    time.Duration
}

// NewSessionCalendar builds a calendar from a IANA zone name and an "HH:MM"
// session open time.
func NewSessionCalendar(timezone, start string) (SessionCalendar, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return SessionCalendar{}, fmt.Errorf("loading session timezone %q: %w", timezone, err)
	}

	var offset time.Duration
	if start != "" {
		t, err := time.Parse("15:04", start)
		if err != nil {
			return SessionCalendar{}, fmt.Errorf("parsing session start %q: %w", start, err)
		}
		offset = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}

	return SessionCalendar{Location: loc, Start: offset}, nil
}

// SessionDate returns the date label of the session t belongs to.
func (c SessionCalendar) SessionDate(t time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Add(-c.Start).Format("2006-01-02")
}

// IsNewSession is a SessionFunc.
func (c SessionCalendar) IsNewSession(prev, cur models.Bar) bool {
	return c.SessionDate(prev.Timestamp) != c.SessionDate(cur.Timestamp)
}
