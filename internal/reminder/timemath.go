package reminder

import "time"

// ISOWeekday converts Go's Sunday=0 weekday to ISO (Monday=1 .. Sunday=7).
func ISOWeekday(d time.Weekday) int { return (int(d)+6)%7 + 1 }

// DelayUntil returns the time from now until the next occurrence of t on
// the given ISO weekday, evaluated in now's location. An occurrence equal
// to now (same weekday, hour and minute) is pushed a full week ahead.
//
// The hour/minute difference is taken first and the day offset added after,
// so hours outside 0..23 still produce a consistent delay.
func DelayUntil(t TimeOfDay, weekday int, now time.Time) time.Duration {
	nowDay := ISOWeekday(now.Weekday())

	secs := (t.Hour-now.Hour())*3600 + (t.Minute-now.Minute())*60
	switch {
	case weekday == nowDay:
		// target is at second 0; any later second of the same minute counts as passed
		if t.Hour < now.Hour() || (t.Hour == now.Hour() && t.Minute <= now.Minute()) {
			secs += 7 * 24 * 3600
		}
	case weekday < nowDay:
		secs += 24 * (weekday - nowDay + 7) * 3600
	default:
		secs += 24 * (weekday - nowDay) * 3600
	}

	// whole minutes only; now's seconds are not subtracted
	d := time.Duration(secs) * time.Second
	if d < 0 {
		return 0
	}
	return d
}

// SecondsUntil is DelayUntil in seconds.
func SecondsUntil(t TimeOfDay, weekday int, now time.Time) float64 {
	return DelayUntil(t, weekday, now).Seconds()
}

// MillisUntil is DelayUntil in milliseconds, the unit of the list views.
func MillisUntil(t TimeOfDay, weekday int, now time.Time) int64 {
	return DelayUntil(t, weekday, now).Milliseconds()
}
