package ledger

import "time"

// MonthWindow returns the billing month containing now. Months start at
// 00:00 on resetDay in loc; resetDay is clamped to 1..28 so that every month
// has the boundary.
//
// Example:
//
//	// Billing months starting on the 15th, Berlin time
//	berlin, _ := time.LoadLocation("Europe/Berlin")
//	w := MonthWindow(time.Now(), berlin, 15)
func MonthWindow(now time.Time, loc *time.Location, resetDay int) Window {
	if loc == nil {
		loc = time.UTC
	}
	if resetDay < 1 {
		resetDay = 1
	}
	if resetDay > 28 {
		resetDay = 28
	}

	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), resetDay, 0, 0, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(0, -1, 0)
	}

	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// DayWindow returns the calendar day containing now in loc.
func DayWindow(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// truncate floors t to the start of its bucket in loc.
func truncate(t time.Time, g Granularity, loc *time.Location) time.Time {
	local := t.In(loc)
	switch g {
	case GranularityHour:
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	default:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}
}

// next returns the start of the bucket after the one starting at t.
// Days are stepped with AddDate so DST transitions keep local midnight.
func next(t time.Time, g Granularity) time.Time {
	if g == GranularityHour {
		return t.Add(time.Hour)
	}
	return t.AddDate(0, 0, 1)
}
