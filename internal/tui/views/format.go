package views

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/handychat/internal/model"
)

// formatTimestamp shows the time of day for today and a date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	if y, d := now.Local().Year(), now.Local().YearDay(); t.Year() == y && t.YearDay() == d {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func statusGlyph(m model.Message) string {
	switch m.Status {
	case model.StatusPending:
		return "…"
	case model.StatusFailed:
		return "!"
	default:
		if m.Read {
			return "✓✓"
		}
		return "✓"
	}
}

func describeAttachment(a model.Attachment) string {
	kind := "photo"
	if a.IsVideo() {
		kind = "video"
		if a.DurationMs > 0 {
			kind += " " + a.Duration().Round(time.Second).String()
		}
	}
	return kind + ", " + humanize.Bytes(uint64(a.Size))
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
