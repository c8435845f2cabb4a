package fieldexpr

import (
	"math"
	"strings"
	"time"

	"vizflow/internal/domain"
)

// Drill levels, coarsest first.
var DrillLevels = []string{"year", "quarter", "month", "week", "day", "hour", "minute", "second"}

// Feature levels.
var FeatureLevels = []string{"year", "quarter", "month", "week", "weekday", "day", "hour", "minute", "second"}

// IsDrillLevel reports whether level is a valid dateTimeDrill level.
func IsDrillLevel(level string) bool { return contains(DrillLevels, level) }

// IsFeatureLevel reports whether level is a valid dateTimeFeature level.
func IsFeatureLevel(level string) bool { return contains(FeatureLevels, level) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CandidateFormats are tried in order when inferring a parse format.
var CandidateFormats = []string{
	"%Y-%m-%dT%H:%M:%S.%LZ",
	"%Y-%m-%dT%H:%M:%SZ",
	"%Y-%m-%dT%H:%M:%S",
	"%Y-%m-%d %H:%M:%S",
	"%Y-%m-%d %H:%M",
	"%Y-%m-%d",
	"%Y/%m/%d %H:%M:%S",
	"%Y/%m/%d",
	"%m/%d/%Y %H:%M:%S",
	"%m/%d/%Y",
	"%d.%m.%Y",
	"%Y-%m",
	"%Y%m%d",
	"%Y",
}

// autoLayouts parse strings when no format is known.
var autoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'L': "000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// GoLayout converts a strftime-style format (the dialect used by d3 and
// DuckDB's strptime) into a Go time layout.
func GoLayout(format string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", domain.ErrValidation("time format %q ends with a bare %%", format)
		}
		i++
		d := format[i]
		layout, ok := strftimeDirectives[d]
		if !ok {
			return "", domain.ErrValidation("time format %q: unsupported directive %%%c", format, d)
		}
		sb.WriteString(layout)
	}
	return sb.String(), nil
}

// ParseTime interprets v as a point in time. Numbers are epoch milliseconds.
// Strings are parsed with format, or with a fixed set of ISO layouts when
// format is empty. Naive timestamps are interpreted in loc.
func ParseTime(v interface{}, format string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if ms, ok := domain.AsNumber(v); ok {
		if math.IsInf(ms, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).In(loc), true
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	if format != "" {
		layout, err := GoLayout(format)
		if err != nil {
			return time.Time{}, false
		}
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	for _, layout := range autoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// InferFormat picks the first candidate format that parses every non-empty
// string sample. Numeric or empty samples, and samples no candidate accepts,
// infer the empty (automatic) format.
func InferFormat(samples []interface{}) string {
	var strs []string
	for _, s := range samples {
		if str, ok := s.(string); ok && str != "" {
			strs = append(strs, str)
		}
	}
	if len(strs) == 0 {
		return ""
	}
	for _, format := range CandidateFormats {
		layout, err := GoLayout(format)
		if err != nil {
			continue
		}
		ok := true
		for _, s := range strs {
			if _, err := time.Parse(layout, s); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return format
		}
	}
	return ""
}

// Truncate floors t to the start of level. Weeks start on Monday.
func Truncate(t time.Time, level string) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch level {
	case "year":
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	case "quarter":
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case "month":
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case "week":
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case "day":
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case "hour":
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case "minute":
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
	case "second":
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t
}

// Feature extracts a numeric feature of t at level. Weekday counts from
// Sunday = 0; week is the ISO week number.
func Feature(t time.Time, level string) float64 {
	switch level {
	case "year":
		return float64(t.Year())
	case "quarter":
		return float64((int(t.Month())-1)/3 + 1)
	case "month":
		return float64(t.Month())
	case "week":
		_, w := t.ISOWeek()
		return float64(w)
	case "weekday":
		return float64(t.Weekday())
	case "day":
		return float64(t.Day())
	case "hour":
		return float64(t.Hour())
	case "minute":
		return float64(t.Minute())
	case "second":
		return float64(t.Second())
	}
	return math.NaN()
}
