package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clinics write date ranges ("from .. to ..") into single cells. A cell with
// more than one date-like substring, an explicit range marker, or a partial
// second date has ambiguous provenance and is rejected outright: we never
// guess which side of a range a payment belongs to.
var (
	dateLike = regexp.MustCompile(
		`\d{4}[/-]\d{1,2}[/-]\d{1,2}` +
			`|\d{1,2}[/-]\d{1,2}[/-]\d{4}` +
			`|\d{1,2}[/-]\d{1,2}[/-]\d{2}([^0-9]|$)` +
			`|\d{1,2}\.\d{1,2}\.\d{4}`)
	hyphenAfterDate  = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\s*[-–—]\s*\d`)
	partialDateRange = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}\s*[-–—]\s*\d{1,2}[/-]\d{1,2}`)
	serialNumber     = regexp.MustCompile(`^\d+([.,]\d+)?$`)

	isoDate     = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	yearFirst   = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})`)
	dayFirst    = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	shortYear   = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{2})([^0-9]|$)`)
	dottedDate  = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	rangeMarker = []string{"الى", "إلى", " to ", "–", "—"}
)

// Workbook serial dates count days from this epoch. Serials for recent
// decades fall in the 30000..60000 window; anything outside is treated as a
// plain number, not a date.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Date parses a date cell into an ISO yyyy-mm-dd string. Accepted forms:
// ISO, yyyy/mm/dd, dd/mm/yyyy, dd/mm/yy, dd.mm.yyyy, and workbook serial
// numbers. Ambiguous cells (ranges, multiple dates) and unparseable input
// return "" — an empty date is always preferable to a wrong one.
func Date(raw string) string {
	txt := strings.TrimSpace(raw)
	if txt == "" {
		return ""
	}
	lowered := strings.ToLower(txt)
	txt = FoldDigits(txt)

	matches := dateLike.FindAllString(txt, -1)
	if len(matches) >= 2 {
		return ""
	}
	if len(matches) == 1 {
		for _, marker := range rangeMarker {
			if strings.Contains(lowered, marker) {
				return ""
			}
		}
		if hyphenAfterDate.MatchString(txt) {
			return ""
		}
		if partialDateRange.MatchString(txt) {
			return ""
		}
	}

	if serialNumber.MatchString(txt) {
		if iso := fromSerial(txt); iso != "" {
			return iso
		}
	}

	if m := isoDate.FindStringSubmatch(txt); m != nil {
		return isoOrEmpty(m[1], m[2], m[3])
	}
	if m := yearFirst.FindStringSubmatch(txt); m != nil {
		return isoOrEmpty(m[1], m[2], m[3])
	}
	if m := dayFirst.FindStringSubmatch(txt); m != nil {
		return isoOrEmpty(m[3], m[2], m[1])
	}
	if m := shortYear.FindStringSubmatch(txt); m != nil {
		y, _ := strconv.Atoi(m[3])
		if y < 70 {
			y += 2000
		} else {
			y += 1900
		}
		return isoOrEmpty(strconv.Itoa(y), m[2], m[1])
	}
	if m := dottedDate.FindStringSubmatch(txt); m != nil {
		return isoOrEmpty(m[3], m[2], m[1])
	}
	return ""
}

func fromSerial(txt string) string {
	f, err := strconv.ParseFloat(strings.ReplaceAll(txt, ",", "."), 64)
	if err != nil {
		return ""
	}
	n := int(f)
	if n < 30000 || n > 60000 {
		return ""
	}
	return serialEpoch.AddDate(0, 0, n).Format("2006-01-02")
}

func isoOrEmpty(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return ""
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return ""
	}
	return t.Format("2006-01-02")
}
