package protocol

import "time"

// The wire represents dates as a day count since 0001-01-01 in the
// proleptic Gregorian calendar, and times of day as 100-nanosecond ticks
// since midnight. The legacy datetime type instead counts days since
// 1900-01-01 and 1/300-second ticks. Conversions use pure integer
// arithmetic; time.Time subtraction would overflow its nanosecond range
// for dates near year 9999.

const (
	ticksPerSecond = 10_000_000 // 100ns units
	secondsPerDay  = 86_400
)

// dateToDays converts a civil date to days since 0001-01-01.
func dateToDays(year, month, day int) int {
	y := year
	if month <= 2 {
		y--
	}
	era := y / 400
	yoe := y - era*400
	mp := (month + 9) % 12
	doy := (153*mp+2)/5 + day - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 306
}

// daysToDate converts days since 0001-01-01 back to a civil date.
func daysToDate(days int) (year, month, day int) {
	z := days + 306
	era := z / 146097
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day = doy - (153*mp+2)/5 + 1
	if mp < 10 {
		month = mp + 3
	} else {
		month = mp - 9
	}
	if month <= 2 {
		y++
	}
	return y, month, day
}

// clockTicks converts a wall-clock time of day to 100ns ticks since
// midnight. Precision beyond one tick is truncated, never rounded, so a
// written value never reads back later than it was.
func clockTicks(t time.Time) int64 {
	h, m, s := t.Clock()
	secs := int64(h*3600 + m*60 + s)
	return secs*ticksPerSecond + int64(t.Nanosecond()/100)
}

// ticksToClock splits 100ns ticks since midnight into clock components.
func ticksToClock(ticks int64) (hour, min, sec, nsec int) {
	nsec = int(ticks%ticksPerSecond) * 100
	secs := int(ticks / ticksPerSecond)
	hour = secs / 3600
	min = secs % 3600 / 60
	sec = secs % 60
	return hour, min, sec, nsec
}

var days1900 = dateToDays(1900, 1, 1)

// legacyDateTime converts a timestamp to the legacy datetime layout:
// days since 1900-01-01 and 1/300-second ticks since midnight.
func legacyDateTime(t time.Time) (days int32, thirds int32) {
	y, mo, d := t.Date()
	days = int32(dateToDays(y, int(mo), d) - days1900)
	h, m, s := t.Clock()
	secs := h*3600 + m*60 + s
	thirds = int32(secs*300) + int32(int64(t.Nanosecond())*3/1_000_000_000)
	return days, thirds
}

// fromLegacyDateTime converts the legacy datetime layout to a timestamp.
func fromLegacyDateTime(days, thirds int32) time.Time {
	y, mo, d := daysToDate(int(days) + days1900)
	secs := int(thirds / 300)
	nsec := int(int64(thirds%300) * 1_000_000_000 / 300)
	return time.Date(y, time.Month(mo), d, secs/3600, secs%3600/60, secs%60, nsec, time.UTC)
}
