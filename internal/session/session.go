// FILE: internal/session/session.go
// Package session – C1 Session Clock.
//
// Computes the next qualifying session instant: Asian (fixed 01:00 UTC),
// London (08:00 Europe/London, DST-aware), New York (09:30
// America/New_York, DST-aware). Market opens follow civil time in the
// host city, not a fixed UTC offset, so London/New York are localized
// through time.LoadLocation rather than hard-coded as UTC+N.
package session

import (
	"fmt"
	"time"
)

// ID names one of the three daily sessions.
type ID string

const (
	Asian   ID = "Asian"
	London  ID = "London"
	NewYork ID = "NewYork"
)

// Session identifies a single session's opening instant.
type Session struct {
	ID       ID
	Instant  time.Time // UTC
}

// Status classifies "now" for dashboard display; the scheduler itself
// never consumes anything but the (ID, Instant) pair from NextSession.
type Status string

const (
	StatusOpenSoon     Status = "open_soon"
	StatusMarketClosed Status = "market_closed"
)

var londonLoc, nyLoc *time.Location

func init() {
	var err error
	londonLoc, err = time.LoadLocation("Europe/London")
	if err != nil {
		panic(fmt.Sprintf("session: load Europe/London: %v", err))
	}
	nyLoc, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("session: load America/New_York: %v", err))
	}
}

// lookaheadDays bounds the search for the next qualifying session; six
// days plus today always reaches at least one business day even across a
// long weekend.
const lookaheadDays = 6

// NextSession returns the earliest (id, instant) strictly greater than
// now, skipping Saturdays and Sundays (evaluated in UTC).
func NextSession(now time.Time) Session {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for dayOffset := 0; dayOffset <= lookaheadDays; dayOffset++ {
		day := today.AddDate(0, 0, dayOffset)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, candidate := range sessionsForDay(day) {
			if candidate.Instant.After(now) {
				return candidate
			}
		}
	}
	// Unreachable under normal operation: lookaheadDays always spans a
	// full business week, so a qualifying session is always found above.
	panic("session: no qualifying session found within lookahead window")
}

// sessionsForDay returns the three sessions' UTC opening instants for the
// UTC calendar date `day`, in chronological order.
func sessionsForDay(day time.Time) []Session {
	y, m, d := day.Date()

	asian := time.Date(y, m, d, 1, 0, 0, 0, time.UTC)

	londonLocal := time.Date(y, m, d, 8, 0, 0, 0, londonLoc)
	london := londonLocal.UTC()

	nyLocal := time.Date(y, m, d, 9, 30, 0, 0, nyLoc)
	ny := nyLocal.UTC()

	sessions := []Session{
		{ID: Asian, Instant: asian},
		{ID: London, Instant: london},
		{ID: NewYork, Instant: ny},
	}
	// With these opening times the UTC order is Asian (01:00), London
	// (07:00 or 08:00), New York (13:30 or 14:30) in every DST
	// combination; the sort keeps the result chronological regardless.
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].Instant.Before(sessions[j-1].Instant); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
	return sessions
}

// ClassifyStatus reports whether `now` falls in a quiet weekend window.
// Exposed for the dashboard per spec.md §4.1; not consumed by the
// scheduler itself.
func ClassifyStatus(now time.Time) Status {
	wd := now.UTC().Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return StatusMarketClosed
	}
	return StatusOpenSoon
}
