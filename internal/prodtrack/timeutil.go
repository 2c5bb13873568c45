package prodtrack

import (
	"regexp"
	"strings"
	"time"
)

// All persisted timestamps are rendered in factory-local time (Malaysia,
// UTC+8). The format is fixed-width and zero-padded, so lexicographic
// comparison of two stamps matches chronological order.
const dbTimestampLayout = "2006-01-02 15:04:05"

var factoryZone = loadFactoryZone()

func loadFactoryZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		return time.FixedZone("MYT", 8*60*60)
	}
	return loc
}

// DBTimestamp renders t as "YYYY-MM-DD HH:mm:ss" in factory-local time.
func DBTimestamp(t time.Time) string {
	return t.In(factoryZone).Format(dbTimestampLayout)
}

// ParseDBTimestamp accepts the canonical stamp, RFC3339, or a bare date.
func ParseDBTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(dbTimestampLayout, s, factoryZone); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02", s, factoryZone); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// TodayISO returns YYYY-MM-DD for t in factory-local time.
func TodayISO(t time.Time) string {
	return t.In(factoryZone).Format("2006-01-02")
}

// MonthISO returns YYYY-MM for t in factory-local time.
func MonthISO(t time.Time) string {
	return t.In(factoryZone).Format("2006-01")
}

// DateOnly strips any trailing time-of-day component, keeping the date part.
// "2025-03-04 10:22:00" and "2025-03-04T10:22:00Z" both become "2025-03-04".
func DateOnly(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i >= 0 {
		return s[:i]
	}
	return s
}

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func IsValidISODate(s string) bool {
	return isoDatePattern.MatchString(s)
}

// WeeklyOffDayType reports the implicit off-day type for a date: Friday is a
// Rest Day and Saturday an Off Day. Manual OffDay records for the same date
// take precedence over this rule.
func WeeklyOffDayType(dateStr string) (OffDayType, bool) {
	t, err := time.ParseInLocation("2006-01-02", DateOnly(dateStr), factoryZone)
	if err != nil {
		return "", false
	}
	switch t.Weekday() {
	case time.Friday:
		return OffDayRestDay, true
	case time.Saturday:
		return OffDayOffDay, true
	default:
		return "", false
	}
}
