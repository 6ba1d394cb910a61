// Package series provides the append-only bar log the engine reads from.
// Bars are addressed by bars-ago offset relative to the most recent bar.
package series

import (
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
)

// SessionFunc reports whether cur opens a new trading session after prev.
type SessionFunc func(prev, cur models.Bar) bool

// SingleSession never splits the stream into sessions.
func SingleSession(prev, cur models.Bar) bool {
	return false
}

// Series is an append-only bar log with optional bounded history. It is
// owned by a single goroutine.
type Series struct {
	bars         []models.Bar // retained bars, oldest first
	next         int          // index assigned to the next appended bar
	depth        int          // 0 keeps everything
	sessionStart int
	newSession   SessionFunc
}

// New creates a series keeping at most depth bars (0 = unbounded).
func New(depth int, session SessionFunc) *Series {
	if session == nil {
		session = SingleSession
	}
	return &Series{
		depth:        depth,
		sessionStart: -1,
		newSession:   session,
	}
}

// Append assigns the next sequence index to bar and stores it. Bars older
// than the previous bar are rejected.
func (s *Series) Append(bar models.Bar) (models.Bar, error) {
	if n := len(s.bars); n > 0 {
		last := s.bars[n-1]
		if bar.Timestamp.Before(last.Timestamp) {
			return models.Bar{}, apperrors.Wrapf(apperrors.ErrOutOfOrder,
				"bar at %s precedes %s", bar.Timestamp.Format("2006-01-02T15:04:05"), last.Timestamp.Format("2006-01-02T15:04:05"))
		}
		if s.newSession(last, bar) {
			s.sessionStart = s.next
		}
	} else if s.next == 0 {
		s.sessionStart = 0
	}

	bar.Index = s.next
	s.next++
	s.bars = append(s.bars, bar)

	if s.depth > 0 && len(s.bars) > s.depth {
		s.bars = s.bars[len(s.bars)-s.depth:]
		// Compact so the backing array does not grow without bound.
		if cap(s.bars) > 4*s.depth {
			compacted := make([]models.Bar, len(s.bars), 2*s.depth)
			copy(compacted, s.bars)
			s.bars = compacted
		}
	}

	return bar, nil
}

// CurrentBar returns the index of the most recent bar, or -1 when empty.
func (s *Series) CurrentBar() int {
	return s.next - 1
}

// Count returns the number of bars ever appended.
func (s *Series) Count() int {
	return s.next
}

// Retained returns the number of bars still addressable.
func (s *Series) Retained() int {
	return len(s.bars)
}

// Depth returns the configured history depth (0 = unbounded).
func (s *Series) Depth() int {
	return s.depth
}

// Oldest returns the index of the oldest retained bar, or -1 when empty.
func (s *Series) Oldest() int {
	if len(s.bars) == 0 {
		return -1
	}
	return s.bars[0].Index
}

// Bar returns the bar barsAgo bars before the current one.
func (s *Series) Bar(barsAgo int) (models.Bar, error) {
	pos := len(s.bars) - 1 - barsAgo
	if barsAgo < 0 || pos < 0 {
		return models.Bar{}, apperrors.NewLookupError("bar", barsAgo, len(s.bars))
	}
	return s.bars[pos], nil
}

// High returns the high barsAgo bars back.
func (s *Series) High(barsAgo int) (float64, error) {
	b, err := s.Bar(barsAgo)
	if err != nil {
		return 0, err
	}
	return b.High, nil
}

// Low returns the low barsAgo bars back.
func (s *Series) Low(barsAgo int) (float64, error) {
	b, err := s.Bar(barsAgo)
	if err != nil {
		return 0, err
	}
	return b.Low, nil
}

// Last returns the most recent bar.
func (s *Series) Last() (models.Bar, bool) {
	if len(s.bars) == 0 {
		return models.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// BarsSinceSession returns the bars-ago offset of the first bar of the
// current session, or -1 when the series is empty.
func (s *Series) BarsSinceSession() int {
	if s.sessionStart < 0 {
		return -1
	}
	return s.CurrentBar() - s.sessionStart
}

// Reset drops every bar and restarts indexing at zero.
func (s *Series) Reset() {
	s.bars = nil
	s.next = 0
	s.sessionStart = -1
}
