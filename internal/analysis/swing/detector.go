// Package swing confirms swing highs and lows over a symmetric bar window.
package swing

import (
	"sort"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
	"fib-targets/internal/series"
)

// NoSwing is returned when no confirmed swing matches a query. It is never a
// valid bars-ago offset.
const NoSwing = -1

// Detector confirms swings on a series it reads but does not own. Update
// must be called once after every bar appended to the series.
//
// A bar b is a swing high when its high is strictly greater than every high
// in the strength bars before it and not exceeded by any of the strength
// bars after it, so the left-most of equal highs wins. Lows are symmetric.
type Detector struct {
	strength int
	bars     *series.Series
	highs    []models.Swing
	lows     []models.Swing
}

// NewDetector creates a detector with the given confirmation strength.
func NewDetector(strength int, bars *series.Series) (*Detector, error) {
	if strength < 1 {
		return nil, apperrors.NewValidationError("strength", strength, "must be >= 1")
	}
	if d := bars.Depth(); d > 0 && d < 2*strength+1 {
		return nil, apperrors.NewValidationError("max_bars_lookback", d, "must cover 2*strength+1 bars")
	}
	return &Detector{strength: strength, bars: bars}, nil
}

// Strength returns the confirmation window.
func (d *Detector) Strength() int {
	return d.strength
}

// Update checks whether the bar strength bars back is now a confirmed swing.
func (d *Detector) Update() {
	cur := d.bars.CurrentBar()
	if cur-2*d.strength < 0 {
		return
	}

	cand, err := d.bars.Bar(d.strength)
	if err != nil {
		return
	}

	isHigh, isLow := true, true
	for ago := 0; ago <= 2*d.strength && (isHigh || isLow); ago++ {
		if ago == d.strength {
			continue
		}
		b, err := d.bars.Bar(ago)
		if err != nil {
			return
		}
		if ago < d.strength {
			// later bars may tie the candidate
			if b.High > cand.High {
				isHigh = false
			}
			if b.Low < cand.Low {
				isLow = false
			}
		} else {
			if b.High >= cand.High {
				isHigh = false
			}
			if b.Low <= cand.Low {
				isLow = false
			}
		}
	}

	if isHigh {
		d.highs = append(d.highs, models.Swing{Kind: models.SwingHigh, BarIndex: cand.Index, Price: cand.High})
	}
	if isLow {
		d.lows = append(d.lows, models.Swing{Kind: models.SwingLow, BarIndex: cand.Index, Price: cand.Low})
	}

	d.prune()
}

// prune keeps at most Depth swings of each kind. Older swings may still
// point past the series' retained bars; resolving them is the caller's job.
func (d *Detector) prune() {
	if limit := d.bars.Depth(); limit > 0 {
		d.highs = keepLast(d.highs, limit)
		d.lows = keepLast(d.lows, limit)
	}
}

func keepLast(track []models.Swing, n int) []models.Swing {
	if len(track) <= n {
		return track
	}
	return append(track[:0], track[len(track)-n:]...)
}

// SwingBar returns the bars-ago offset of the occurrence-th most recent
// confirmed swing of kind whose offset does not exceed lookback. It returns
// NoSwing when there is no such swing.
func (d *Detector) SwingBar(kind models.SwingKind, occurrence, lookback int) int {
	if occurrence < 1 || lookback < 0 {
		return NoSwing
	}

	track := d.track(kind)
	cur := d.bars.CurrentBar()
	for i := len(track) - 1; i >= 0; i-- {
		ago := cur - track[i].BarIndex
		if ago > lookback {
			return NoSwing
		}
		occurrence--
		if occurrence == 0 {
			return ago
		}
	}
	return NoSwing
}

// SwingAt returns the swing of kind confirmed at barsAgo.
func (d *Detector) SwingAt(kind models.SwingKind, barsAgo int) (models.Swing, bool) {
	track := d.track(kind)
	index := d.bars.CurrentBar() - barsAgo
	i := sort.Search(len(track), func(i int) bool { return track[i].BarIndex >= index })
	if i < len(track) && track[i].BarIndex == index {
		return track[i], true
	}
	return models.Swing{}, false
}

// Swings returns a copy of the confirmed swings of kind, oldest first.
func (d *Detector) Swings(kind models.SwingKind) []models.Swing {
	track := d.track(kind)
	out := make([]models.Swing, len(track))
	copy(out, track)
	return out
}

// Reset forgets every confirmed swing.
func (d *Detector) Reset() {
	d.highs = nil
	d.lows = nil
}

func (d *Detector) track(kind models.SwingKind) []models.Swing {
	if kind == models.SwingHigh {
		return d.highs
	}
	return d.lows
}
