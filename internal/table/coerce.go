package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01",
}

func Text(v Value) string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1e16 {
			return strconv.FormatFloat(v.f, 'f', 1, 64)
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindTime:
		if v.t.Hour() == 0 && v.t.Minute() == 0 && v.t.Second() == 0 && v.t.Nanosecond() == 0 {
			return v.t.Format("2006-01-02")
		}
		return v.t.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func ToFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindBool:
		return float64(v.i), true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Non-integral floats truncate toward zero.
func ToInt(v Value) (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if math.Abs(v.f) >= math.MaxInt64 {
			return 0, false
		}
		return int64(v.f), true
	case KindString:
		raw := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func ToBool(v Value) (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.i != 0, true
	case KindInt:
		if v.i == 0 || v.i == 1 {
			return v.i == 1, true
		}
		return false, false
	case KindFloat:
		if v.f == 0 || v.f == 1 {
			return v.f == 1, true
		}
		return false, false
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

func ToTime(v Value) (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindString:
		raw := strings.TrimSpace(v.s)
		if raw == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func Align(kind Kind, v Value) (Value, bool) {
	if v.IsNull() {
		return Null(), false
	}
	switch kind {
	case KindInt:
		if v.kind == KindFloat {
			return v, true
		}
		if i, ok := ToInt(v); ok && v.kind != KindBool {
			return Int(i), true
		}
		if f, ok := ToFloat(v); ok && v.kind == KindString {
			return Float(f), true
		}
		return Null(), false
	case KindFloat:
		if v.kind == KindBool {
			return Null(), false
		}
		if f, ok := ToFloat(v); ok {
			return Float(f), true
		}
		return Null(), false
	case KindString:
		return String(Text(v)), true
	case KindBool:
		if b, ok := ToBool(v); ok {
			return Bool(b), true
		}
		return Null(), false
	case KindTime:
		if t, ok := ToTime(v); ok {
			return Time(t), true
		}
		return Null(), false
	default:
		return Null(), false
	}
}
