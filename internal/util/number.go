package util

import (
	"regexp"
	"strconv"
	"strings"
)

var numberRegex = regexp.MustCompile(`[-+]?[0-9]*\.?[0-9]+([eE][-+]?[0-9]+)?`)

// FirstNumberAfter returns the first number that appears anywhere after the first
// occurrence of key in line.
//
// The number does not need to be adjacent to key: FirstNumberAfter("X", "G1 X 10")
// returns 10. ok is false when key is absent or no number follows it.
func FirstNumberAfter(key string, line string) (value float64, ok bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, false
	}

	match := numberRegex.FindString(line[idx+len(key):])
	if match == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// FormatNumber formats v with at most decimals fraction digits and no trailing zeros,
// so 1.5 renders as "1.5" and 2 renders as "2".
func FormatNumber(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}

	return s
}
