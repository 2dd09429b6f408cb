package budget

import "time"

// Window identifies a spend accounting period.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Windows lists every accounting window, in a stable order.
func Windows() []Window {
	return []Window{WindowDaily, WindowWeekly, WindowMonthly}
}

// start returns the UTC start of the window containing t. Daily windows are
// UTC days, weekly windows are ISO weeks (Monday start), monthly windows are
// calendar months. Crossing the boundary is the window rollover.
func (w Window) start(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case WindowDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case WindowWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case WindowMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// key returns a stable identifier for the window instance containing t,
// e.g. "daily:2026-08-31". Threshold edge-tracking is keyed on it so the
// crossed set resets naturally at rollover.
func (w Window) key(t time.Time) string {
	return string(w) + ":" + w.start(t).Format("2006-01-02")
}
