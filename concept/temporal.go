package concept

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout       = "2006-01-02"
	datetimeLayout   = "2006-01-02T15:04:05.000"
	datetimeTZLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

const (
	nanosPerSecond = uint64(time.Second)
	nanosPerMinute = uint64(time.Minute)
	nanosPerHour   = uint64(time.Hour)
)

// FormatDate renders the date part of t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatDatetime renders a naive datetime with millisecond precision.
func FormatDatetime(t time.Time) string {
	return t.Format(datetimeLayout)
}

// FormatDatetimeTZ renders a zoned datetime as RFC 3339 with nanoseconds,
// followed by the IANA zone name in brackets when the location has one.
func FormatDatetimeTZ(t time.Time) string {
	s := t.Format(datetimeTZLayout)
	if name := zoneName(t.Location()); name != "" {
		s += "[" + name + "]"
	}
	return s
}

// ParseDatetimeTZ parses the output of FormatDatetimeTZ.
func ParseDatetimeTZ(s string) (time.Time, error) {
	zone := ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return time.Time{}, fmt.Errorf("malformed zone in datetime-tz %q", s)
		}
		zone = s[i+1 : len(s)-1]
		s = s[:i]
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse datetime-tz: %w", err)
	}
	if zone == "" {
		return t, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown zone %q: %w", zone, err)
	}
	return t.In(loc), nil
}

func zoneName(loc *time.Location) string {
	name := loc.String()
	if name == "" || name == "UTC" || name == "Local" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		// fixed offsets carry an arbitrary name
		return ""
	}
	return name
}

// Duration is a calendar-aware duration. Months and days are kept apart from
// the exact nanosecond part because their length depends on the date they are
// applied to.
type Duration struct {
	Months uint32
	Days   uint32
	Nanos  uint64
}

// String renders the duration in ISO 8601 form, e.g. P1Y2M3DT4H5M6.5S.
func (d Duration) String() string {
	if d == (Duration{}) {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	if years := d.Months / 12; years > 0 {
		fmt.Fprintf(&b, "%dY", years)
	}
	if months := d.Months % 12; months > 0 {
		fmt.Fprintf(&b, "%dM", months)
	}
	if d.Days > 0 {
		fmt.Fprintf(&b, "%dD", d.Days)
	}
	if d.Nanos == 0 {
		return b.String()
	}
	b.WriteByte('T')
	rem := d.Nanos
	if hours := rem / nanosPerHour; hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	rem %= nanosPerHour
	if minutes := rem / nanosPerMinute; minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	rem %= nanosPerMinute
	secs, frac := rem/nanosPerSecond, rem%nanosPerSecond
	switch {
	case frac > 0:
		fmt.Fprintf(&b, "%d.%sS", secs, strings.TrimRight(fmt.Sprintf("%09d", frac), "0"))
	case secs > 0:
		fmt.Fprintf(&b, "%dS", secs)
	}
	return b.String()
}
