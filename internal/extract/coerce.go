package extract

import (
	"strconv"
	"strings"
)

// coerceNumeric strips thousands separators and parses a finite
// floating-point value; returns false on any parse failure (spec §4.6).
func coerceNumeric(raw string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// coerceBoolean maps {"true","1","x","yes"} to true and
// {"false","0","","no"} to false, case-insensitively after trimming;
// anything else is null (spec §4.6).
func coerceBoolean(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "x", "yes":
		return true, true
	case "false", "0", "", "no":
		return false, true
	default:
		return false, false
	}
}

// coerceText trims raw and returns false if the result is empty.
func coerceText(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
