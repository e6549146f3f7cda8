package scanning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Patterns are tried in this order; the first valid match wins.
var (
	dayFirstPattern  = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})\b`)
	yearFirstPattern = regexp.MustCompile(`\b(\d{4})[./-](\d{1,2})[./-](\d{1,2})\b`)
	monthNamePattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(\p{L}+)\s+(\d{4})\b`)
)

// English and French month names and abbreviations
var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January, "janvier": time.January,
	"february": time.February, "feb": time.February, "février": time.February, "fevrier": time.February, "fev": time.February, "fév": time.February,
	"march": time.March, "mar": time.March, "mars": time.March,
	"april": time.April, "apr": time.April, "avril": time.April, "avr": time.April,
	"may": time.May, "mai": time.May,
	"june": time.June, "jun": time.June, "juin": time.June,
	"july": time.July, "jul": time.July, "juillet": time.July,
	"august": time.August, "aug": time.August, "août": time.August, "aout": time.August,
	"september": time.September, "sep": time.September, "sept": time.September, "septembre": time.September,
	"october": time.October, "oct": time.October, "octobre": time.October,
	"november": time.November, "nov": time.November, "novembre": time.November,
	"december": time.December, "dec": time.December, "décembre": time.December, "decembre": time.December, "déc": time.December,
}

// modelDateLayouts are the formats accepted from the inference model
var modelDateLayouts = []string{
	DateLayout,
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
}

// expandYear maps a two-digit year onto a century using a 50-year pivot
func expandYear(year int) int {
	if year >= 100 {
		return year
	}
	if year < 50 {
		return 2000 + year
	}
	return 1900 + year
}

func monthFromName(name string) int {
	return int(monthNames[strings.ToLower(name)])
}

// validDate applies the range check shared by every pattern
func validDate(day, month, year int) bool {
	return day >= 1 && day <= 31 && month >= 1 && month <= 12 && year >= 2000 && year <= 2100
}

func formatDate(day, month, year int) string {
	return fmt.Sprintf("%02d-%02d-%04d", day, month, year)
}

// dateFromText scans recognized text for a date. It returns "" when nothing
// plausible is found.
func dateFromText(text string) string {
	for _, m := range dayFirstPattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		year = expandYear(year)
		if validDate(day, month, year) {
			return formatDate(day, month, year)
		}
	}

	for _, m := range yearFirstPattern.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if validDate(day, month, year) {
			return formatDate(day, month, year)
		}
	}

	for _, m := range monthNamePattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month := monthFromName(m[2])
		year, _ := strconv.Atoi(m[3])
		if validDate(day, month, year) {
			return formatDate(day, month, year)
		}
	}

	return ""
}

// normalizeModelDate rewrites a model supplied date as DD-MM-YYYY, or returns
// "" when it cannot be read.
func normalizeModelDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range modelDateLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			return d.Format(DateLayout)
		}
	}
	return ""
}
