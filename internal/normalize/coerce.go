package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	decimalRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	integerRe   = regexp.MustCompile(`\d+`)
	currencyRe  = regexp.MustCompile(`[$€£¥,\s]`)
	literUnitRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*l(?:iter|itre)?s?\b`)
)

// CoerceABV extracts the first decimal number from values like "43%" or
// "46.5% ABV". Returns nil when nothing parseable is present.
func CoerceABV(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case string:
		if m := decimalRe.FindString(val); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// CoerceAge extracts the first integer from values like "12 Year Old"
// or "12yo".
func CoerceAge(v any) *int {
	switch val := v.(type) {
	case int:
		return &val
	case float64:
		n := int(val)
		return &n
	case string:
		if m := integerRe.FindString(val); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return &n
			}
		}
	}
	return nil
}

// CoerceVolume extracts the first integer from a volume value. A value
// of 10 or less carrying a liter unit is treated as liters and
// multiplied by 1000.
func CoerceVolume(v any) *int {
	switch val := v.(type) {
	case int:
		return &val
	case float64:
		n := int(val)
		return &n
	case string:
		if m := literUnitRe.FindStringSubmatch(val); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil && f <= 10 {
				n := int(f * 1000)
				return &n
			}
		}
		if m := integerRe.FindString(val); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return &n
			}
		}
	}
	return nil
}

// CoercePrice strips currency symbols and thousands separators before
// parsing.
func CoercePrice(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case string:
		cleaned := currencyRe.ReplaceAllString(val, "")
		cleaned = strings.TrimSpace(cleaned)
		if m := decimalRe.FindString(cleaned); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
