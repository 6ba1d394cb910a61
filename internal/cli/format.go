package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatPrice formats a price with the given number of decimal places.
// Negative precision is treated as zero.
func FormatPrice(price float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return "-"
	}
	s := fmt.Sprintf("%.*f", precision, price)
	if s == "-"+fmt.Sprintf("%.*f", precision, 0.0) {
		s = s[1:] // no negative zero
	}
	return s
}

// FormatBand formats a zone's two retracement levels, lower first.
func FormatBand(level1, level2 float64, precision int) string {
	lo, hi := level1, level2
	if lo > hi {
		lo, hi = hi, lo
	}
	return "[" + FormatPrice(lo, precision) + ", " + FormatPrice(hi, precision) + "]"
}

// FormatBarsAgo formats a bars-ago offset.
func FormatBarsAgo(n int) string {
	switch {
	case n < 0:
		return "-"
	case n == 0:
		return "this bar"
	case n == 1:
		return "1 bar ago"
	}
	return fmt.Sprintf("%d bars ago", n)
}

// FormatTime formats a bar time in loc (UTC when nil).
func FormatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// ShortID shortens a run ID for table display.
func ShortID(id string) string {
	return TruncateString(id, 8)
}

// TruncateString truncates a string to max runes, ending in ... when cut.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 {
		return ""
	}
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// YesNo formats a boolean for tables.
func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// FormatList joins values for a single table cell.
func FormatList(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
