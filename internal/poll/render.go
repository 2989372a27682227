package poll

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// TimestampLayout formats the "Current Results" time.
	TimestampLayout = "Jan 2, 03:04 PM"

	endedLine  = "🛑 Poll has ended.\n"
	footerText = "Discord weighted vote + Website poll results"
	threadHint = "👇 Click the thread below for character images & discussion!"
)

// remainingLine only matches the header: ^ without (?m) anchors to the start of the text.
var remainingLine = regexp.MustCompile(`^⏳ Time remaining: .*\n`)

// View is everything the renderer needs; it holds no references to live state.
type View struct {
	Labels    [OptionCount]string
	Scores    Scores
	Winners   map[int]bool
	Markers   Markers
	Remaining time.Duration
	Now       time.Time
}

// FormatRemaining renders a duration as "Xd Xh Xm Xs", clamped at zero.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// Render builds the poll message text.
func Render(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ Time remaining: %s\n", FormatRemaining(v.Remaining))
	b.WriteString(resultsBlock(v, "%.2f"))
	b.WriteString("\n" + footerText + "\n\n")
	b.WriteString(threadHint)
	return b.String()
}

// Finalize swaps the leading remaining-time line for the ended notice, leaving
// everything else (including labels that repeat the header text) as rendered.
func Finalize(text string) string {
	return remainingLine.ReplaceAllLiteralString(text, endedLine)
}

// Announcement is the thread post for a newly marked winner.
func Announcement(label string, v View) string {
	return fmt.Sprintf("**%s has been marked as a poll winner! 🎉**\n\n%s", label, resultsBlock(v, "%.1f"))
}

func resultsBlock(v View, scoreFormat string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Current Results (%s)\n\n", v.Now.Format(TimestampLayout))
	for i, label := range v.Labels {
		line := fmt.Sprintf("%s = "+scoreFormat+" -- %s", v.Markers[i].Display, v.Scores[i], label)
		if v.Winners[i+1] {
			line = "||" + line + "||"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
