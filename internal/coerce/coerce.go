// Package coerce converts loosely typed decoded JSON values into the
// non-negative integers and strings the nutrition records require.
// Every helper tolerates a wrong type, a missing value and an out-of-range value.
package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Number converts v to a non-negative rounded integer. ok is false when v
// carries no usable number; the returned value is then 0.
func Number(v any) (n int, ok bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(leadingNumber(numericOnly(x)), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Round(f)
	if f < 0 {
		return 0, true
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int(f), true
}

// Int is Number with the missing case collapsed to 0.
func Int(v any) int {
	n, _ := Number(v)
	return n
}

// OptionalInt returns nil instead of 0 when v has no usable number.
func OptionalInt(v any) *int {
	n, ok := Number(v)
	if !ok {
		return nil
	}
	return &n
}

// String passes v through only when it is text.
func String(v any) string {
	s, _ := v.(string)
	return s
}

// TrimmedString returns the trimmed text of v and whether it is non-empty.
func TrimmedString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Bool reports the value of v when it is an explicit boolean.
func Bool(v any) (value bool, present bool) {
	b, ok := v.(bool)
	return b, ok
}

// Time parses an RFC 3339 timestamp; ok is false for anything else.
func Time(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// numericOnly keeps digits, the decimal point and the minus sign.
func numericOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// leadingNumber returns the longest prefix of s that reads as a decimal
// number, so "450-550" yields "450" and "12.5." yields "12.5".
func leadingNumber(s string) string {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i+1 < len(s) && s[i] == '.' && s[i+1] >= '0' && s[i+1] <= '9' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return s[:i]
}
