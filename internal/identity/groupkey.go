// Package identity decides when two source rows describe the same patient.
// Group keys are derived strings; equal keys mean "one patient" for the
// current operation. The same key construction is used by preview, preflight
// and commit — changing one changes all three.
package identity

import (
	"fmt"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
)

// LegacyGroupKey is the coarse grouping used for the extraction summary's
// distinct-patient count. It keys on normalized file digits plus the first
// two name tokens so minor spelling drift at the end of a name does not
// split a patient, falling back to phone, then full name.
func LegacyGroupKey(fileOrPage, fullName, phone string) string {
	normFile := normalize.FileNumber(fileOrPage)
	normName := normalize.Name(fullName)
	firstTwo := normalize.FirstTwoNameTokens(normName)

	switch {
	case normFile != "" && firstTwo != "":
		return fmt.Sprintf("%s|%s", normFile, firstTwo)
	case normFile != "" && normName != "":
		return fmt.Sprintf("%s|%s", normFile, normName)
	}
	if p := normalize.Phone(phone); p != "" {
		return "phone|" + p
	}
	if normName != "" {
		return "name|" + normName
	}
	return ""
}

// GroupKey builds the strictness-mode grouping key for a record. Spreadsheet
// rows key on the first notebook page token; CSV rows key on the normalized
// file number. An empty key means the row carries no usable identity and is
// excluded from grouping.
//
// Precedence, first match wins:
//
//	safe:       (page/file, name, phone) -> (page/file, name) -> phone -> name
//	normal:     (page/file, name)        -> phone -> name
//	aggressive: page/file                -> name
func GroupKey(rec *model.PaymentRecord, kind model.SourceKind, mode model.Mode) string {
	if kind == model.SourceCSV {
		return csvKey(rec, mode)
	}
	return spreadsheetKey(rec, mode)
}

func spreadsheetKey(rec *model.PaymentRecord, mode model.Mode) string {
	page := normalize.FirstPageToken(rec.FileOrPage)
	name := normalize.Name(rec.FullName)
	phone := normalize.Phone(rec.Phone)

	switch mode {
	case model.ModeAggressive:
		if page != "" {
			return "pg|" + page
		}
		if name != "" {
			return "name|" + name
		}
		return ""
	case model.ModeNormal:
		if page != "" && name != "" {
			return fmt.Sprintf("pg|%s|%s", page, name)
		}
	default:
		if page != "" && name != "" && phone != "" {
			return fmt.Sprintf("pg|%s|%s|%s", page, name, phone)
		}
		if page != "" && name != "" {
			return fmt.Sprintf("pg|%s|%s", page, name)
		}
	}
	if phone != "" {
		return "phone|" + phone
	}
	if name != "" {
		return "name|" + name
	}
	return ""
}

func csvKey(rec *model.PaymentRecord, mode model.Mode) string {
	file := normalize.FileNumber(rec.FileOrPage)
	name := normalize.Name(rec.FullName)
	phone := normalize.Phone(rec.Phone)

	switch mode {
	case model.ModeAggressive:
		if file != "" {
			return "file|" + file
		}
		if name != "" {
			return "name|" + name
		}
		return ""
	case model.ModeNormal:
		if file != "" && name != "" {
			return fmt.Sprintf("file|%s|%s", file, name)
		}
	default:
		if file != "" && name != "" && phone != "" {
			return fmt.Sprintf("file|%s|%s|%s", file, name, phone)
		}
		if file != "" && name != "" {
			return fmt.Sprintf("file|%s|%s", file, name)
		}
	}
	if phone != "" {
		return "phone|" + phone
	}
	if name != "" {
		return "name|" + name
	}
	return ""
}
