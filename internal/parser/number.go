package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	rangePattern  = regexp.MustCompile(`(\d[\d.,]*)\s*[-~–—]\s*(\d[\d.,]*)`)
)

// multipliers for the CJK magnitude suffixes admin tools print ("1.2万").
var multipliers = map[string]float64{
	"万": 1e4,
	"亿": 1e8,
	"w": 1e4,
	"k": 1e3,
}

// ParseNumber extracts the numeric value of a cell such as "1 200,50 ₽",
// "¥12.5", "3.4万" or "84 - 94" (ranges resolve to their upper bound).
func ParseNumber(text string) (float64, bool) {
	text = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t', '\n':
			return -1
		}
		return r
	}, text)

	if m := rangePattern.FindStringSubmatchIndex(text); m != nil {
		if v, ok := parseDecimal(text[m[4]:m[5]]); ok {
			return v * suffixMultiplier(text[m[1]:]), true
		}
		return 0, false
	}

	loc := numberPattern.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}

	v, ok := parseDecimal(text[loc[0]:loc[1]])
	if !ok {
		return 0, false
	}
	return v * suffixMultiplier(text[loc[1]:]), true
}

func suffixMultiplier(rest string) float64 {
	rest = strings.ToLower(strings.TrimSpace(rest))
	for suffix, m := range multipliers {
		if strings.HasPrefix(rest, suffix) {
			// "kg" is a unit, not a thousand.
			if suffix == "k" && strings.HasPrefix(rest, "kg") {
				continue
			}
			return m
		}
	}
	return 1
}

// parseDecimal normalizes grouping and decimal separators. A lone comma is
// a decimal separator unless it is followed by exactly three digits and
// preceded by a non-zero integer part.
func parseDecimal(s string) (float64, bool) {
	s = strings.Trim(s, ".,")
	hasDot := strings.Contains(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case hasDot && commas > 0:
		s = strings.ReplaceAll(s, ",", "")
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1:
		idx := strings.Index(s, ",")
		intPart, frac := s[:idx], s[idx+1:]
		if len(frac) == 3 && intPart != "0" {
			s = intPart + frac
		} else {
			s = intPart + "." + frac
		}
	}

	if strings.Count(s, ".") > 1 {
		s = strings.Replace(s, ".", "", strings.Count(s, ".")-1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
