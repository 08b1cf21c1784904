// Package normalize holds the pure canonicalization functions applied to raw
// cell values before any grouping or matching decision. All functions are
// conservative: when a value is ambiguous they reject it rather than guess.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var digitFolding = strings.NewReplacer(
	"٠", "0",
	"١", "1",
	"٢", "2",
	"٣", "3",
	"٤", "4",
	"٥", "5",
	"٦", "6",
	"٧", "7",
	"٨", "8",
	"٩", "9",
	"٫", ".",
	"،", ",",
)

// FoldDigits rewrites Arabic-Indic digits (and the Arabic decimal/thousands
// marks) to their ASCII equivalents. Sheets produced under Arabic locales
// store numbers this way.
func FoldDigits(raw string) string {
	return digitFolding.Replace(raw)
}

// FileNumber strips non-digit characters and leading zeros so "001", "1" and
// "P-001" all normalize to "1". Returns "" when no digits remain.
func FileNumber(raw string) string {
	var digits strings.Builder
	for _, ch := range FoldDigits(raw) {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	trimmed := strings.TrimLeft(digits.String(), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Name collapses internal whitespace and lowercases for comparisons.
func Name(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// FirstTwoNameTokens returns the first two whitespace-delimited tokens of a
// normalized name, used for coarse duplicate clustering.
func FirstTwoNameTokens(normName string) string {
	parts := strings.Fields(normName)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, " ")
}

// Phone keeps digits only.
func Phone(raw string) string {
	var digits strings.Builder
	for _, ch := range FoldDigits(raw) {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	return digits.String()
}

// Money parses a money-like string into integer minor currency units.
// Thousands separators are stripped and the value rounded to the nearest
// minor unit. Non-numeric or negative input yields zero: absent amounts are
// common and legitimate in handwritten ledgers, never an error.
func Money(raw string) int64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(FoldDigits(raw), ",", ""))
	if cleaned == "" {
		return 0
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	cents := d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents < 0 {
		return 0
	}
	return cents
}

var firstDigitRun = regexp.MustCompile(`\d+`)

// FirstPageToken extracts the first run of digits from a page-number cell
// that may contain a range ("45-46" -> "45"), with leading zeros removed.
func FirstPageToken(raw string) string {
	txt := strings.TrimSpace(FoldDigits(raw))
	if txt == "" {
		return ""
	}
	m := firstDigitRun.FindString(txt)
	if m == "" {
		return ""
	}
	trimmed := strings.TrimLeft(m, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// SplitPageNumbers splits a raw page cell into simple tokens on commas.
// Ranges like "45-46" are kept as a single token, never expanded.
func SplitPageNumbers(raw string) []string {
	txt := strings.TrimSpace(strings.ReplaceAll(raw, "،", ","))
	if txt == "" {
		return nil
	}
	var pages []string
	for _, part := range strings.Split(txt, ",") {
		if p := strings.TrimSpace(part); p != "" {
			pages = append(pages, p)
		}
	}
	return pages
}

// VisitType normalizes a visit-type cell to "exam" or "followup", matching
// both English and Arabic ledger labels. Unknown labels map to "".
func VisitType(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lowered := strings.ToLower(trimmed)
	if strings.Contains(lowered, "exam") || strings.Contains(lowered, "diagnos") || strings.Contains(trimmed, "كشف") {
		return "exam"
	}
	if strings.Contains(lowered, "follow") || strings.Contains(trimmed, "متاب") {
		return "followup"
	}
	return ""
}

// ImportText collapses whitespace and lowercases, the canonical form used in
// fingerprint keys.
func ImportText(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
