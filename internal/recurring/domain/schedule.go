package domain

import "time"

// ComputeNextDate adds interval units of frequency to from. Month and year
// steps clamp the day to the last day of the target month, so Jan 31 plus
// one month is Feb 28 (or 29). Time of day and location are preserved.
func ComputeNextDate(frequency Frequency, interval int, from time.Time) (time.Time, error) {
	return ComputeNextDateAnchored(frequency, interval, from, 0)
}

// ComputeNextDateAnchored is ComputeNextDate for calendar steps that aim for
// anchorDay instead of from's day, so a schedule started on the 31st returns
// to the 31st after a short month. anchorDay <= 0 uses from's day.
func ComputeNextDateAnchored(frequency Frequency, interval int, from time.Time, anchorDay int) (time.Time, error) {
	if interval < 1 {
		return time.Time{}, ErrInvalidInterval
	}
	switch frequency {
	case FrequencyDaily:
		return from.AddDate(0, 0, interval), nil
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval), nil
	case FrequencyMonthly:
		return addMonthsClamped(from, interval, anchorDay), nil
	case FrequencyYearly:
		return addMonthsClamped(from, 12*interval, anchorDay), nil
	default:
		return time.Time{}, ErrInvalidFrequency
	}
}

func addMonthsClamped(from time.Time, months int, anchorDay int) time.Time {
	year, month, day := from.Date()
	if anchorDay > 0 {
		day = anchorDay
	}

	total := int(month) - 1 + months
	year += total / 12
	target := time.Month(total%12 + 1)

	if last := daysIn(year, target, from.Location()); day > last {
		day = last
	}
	hour, minute, sec := from.Clock()
	return time.Date(year, target, day, hour, minute, sec, from.Nanosecond(), from.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// DayOf truncates t to its calendar day in UTC.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PastEnd reports whether cycle falls on a later day than end.
func PastEnd(cycle time.Time, end *time.Time) bool {
	if end == nil {
		return false
	}
	return DayOf(cycle).After(DayOf(*end))
}
