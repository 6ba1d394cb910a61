package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"fib-targets/internal/models"
)

var (
	bearText      = color.New(color.FgRed).SprintfFunc()
	bearBold      = color.New(color.FgRed, color.Bold).SprintfFunc()
	bullText      = color.New(color.FgGreen).SprintfFunc()
	bullBold      = color.New(color.FgGreen, color.Bold).SprintfFunc()
	predictiveTag = color.New(color.FgYellow).SprintfFunc()
	dimText       = color.New(color.Faint).SprintfFunc()
)

// Terminal prints zone draws and removals as coloured lines.
type Terminal struct {
	mu        sync.Mutex
	out       io.Writer
	precision int
}

// NewTerminal creates a terminal sink writing to out. Colour is disabled
// globally when noColor is set.
func NewTerminal(out io.Writer, noColor bool) *Terminal {
	if noColor {
		color.NoColor = true
	}
	return &Terminal{out: out, precision: 2}
}

// SetPrecision sets the number of decimals printed for prices.
func (t *Terminal) SetPrecision(p int) {
	t.mu.Lock()
	t.precision = p
	t.mu.Unlock()
}

func (t *Terminal) Draw(zone models.Zone) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	text, bold := bullText, bullBold
	if zone.Polarity == models.Bear {
		text, bold = bearText, bearBold
	}
	kind := "confirmed "
	if zone.Kind == models.Predictive {
		kind = predictiveTag("predictive")
	}

	_, err := fmt.Fprintf(t.out, "%s %s %s %s [%.*f, %.*f] %s\n",
		dimText("%s #%d", zone.CreatedAt.Format("2006-01-02 15:04"), zone.CreatedBar),
		bold("%-4s", zone.Polarity),
		kind,
		text("%-14s", zone.ID),
		t.precision, zone.Level1,
		t.precision, zone.Level2,
		dimText("from %d bars ago, swing %.*f-%.*f, width %d", zone.AnchorBarsAgo, t.precision, zone.SwingLow, t.precision, zone.SwingHigh, zone.WidthBars),
	)
	return err
}

func (t *Terminal) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.out, "%s %s\n", dimText("remove"), predictiveTag(id))
	return err
}
