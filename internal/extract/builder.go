package extract

import (
	"strconv"
	"strings"

	"github.com/clinicware/ledger-import/internal/identity"
	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
	"github.com/clinicware/ledger-import/pkg/errors"
)

// Records extracts the uniform payment record sequence from a source file.
func Records(path string, kind model.SourceKind) ([]*model.PaymentRecord, model.ExtractCounts, error) {
	if kind == model.SourceCSV {
		return csvRecords(path)
	}
	return spreadsheetRecords(path)
}

// Header labels are matched by substring fragments against the
// whitespace-stripped header text, so column order and exact wording may
// vary between notebook years without mis-wiring fields.
type headerMap struct {
	file      string
	name      string
	phone     string
	exam      string
	follow    string
	treatment string
	total     string
	paid      string
	remaining string
	notes     string
	date      string
}

func findColumn(header map[string]string, fragments ...string) string {
	for col, text := range header {
		stripped := strings.ReplaceAll(text, " ", "")
		all := true
		for _, frag := range fragments {
			if !strings.Contains(stripped, frag) {
				all = false
				break
			}
		}
		if all {
			return col
		}
	}
	return ""
}

func mapHeaders(header map[string]string) headerMap {
	h := headerMap{
		name:      findColumn(header, "الاسم"),
		exam:      findColumn(header, "كشف"),
		follow:    findColumn(header, "متابع"),
		treatment: findColumn(header, "نوع", "العلاج"),
		remaining: findColumn(header, "المبلغ", "المتبقي"),
		notes:     findColumn(header, "ملاحظات"),
	}
	h.file = findColumn(header, "رقم", "دفتر")
	if h.file == "" {
		h.file = findColumn(header, "رقم", "ملف")
	}
	h.phone = findColumn(header, "رقم", "تلفون")
	if h.phone == "" {
		h.phone = findColumn(header, "رقم", "تليفون")
	}
	h.total = findColumn(header, "اجمالي", "المبلغ")
	if h.total == "" {
		h.total = findColumn(header, "إجمالي", "المبلغ")
	}
	h.paid = findColumn(header, "دفعه")
	if h.paid == "" {
		h.paid = findColumn(header, "دفعة")
	}
	// Prefer the "today + time" date column when present, else any date column.
	h.date = findColumn(header, "تاريخ", "اليوم", "توقيت")
	if h.date == "" {
		h.date = findColumn(header, "تاريخ")
	}
	return h
}

func cell(row map[string]string, col string) string {
	if col == "" {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func spreadsheetRecords(path string) ([]*model.PaymentRecord, model.ExtractCounts, error) {
	var counts model.ExtractCounts

	rows, err := WorkbookRows(path, PatientRecordsSheet)
	if err != nil {
		return nil, counts, err
	}
	if len(rows) < 2 {
		return nil, counts, nil
	}

	headers := mapHeaders(rows[0])
	if headers.file == "" && headers.name == "" {
		return nil, counts, errors.NewUnsupportedFormat(nil)
	}

	var records []*model.PaymentRecord
	patientKeys := make(map[string]struct{})

	for i, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}

		fileOrPage := cell(row, headers.file)
		name := cell(row, headers.name)
		phone := cell(row, headers.phone)
		totalRaw := cell(row, headers.total)
		paidRaw := cell(row, headers.paid)
		remainingRaw := cell(row, headers.remaining)
		notes := cell(row, headers.notes)
		dateRaw := cell(row, headers.date)
		treatment := cell(row, headers.treatment)

		examVal := cell(row, headers.exam)
		followVal := cell(row, headers.follow)
		visitLabel := examVal
		if visitLabel == "" {
			visitLabel = followVal
		}
		examFlag := examVal != ""
		followFlag := !examFlag && followVal != ""

		anyRelevant := fileOrPage != "" || name != "" || phone != "" ||
			totalRaw != "" || paidRaw != "" || remainingRaw != "" ||
			notes != "" || dateRaw != "" || examVal != "" || followVal != "" || treatment != ""
		if !anyRelevant {
			continue
		}
		counts.TotalRows++

		// "خالص" in the remaining column means settled in full.
		var remainingCents int64
		if remainingRaw == "خالص" {
			remainingCents = 0
		} else {
			remainingCents = normalize.Money(remainingRaw)
		}
		totalCents := normalize.Money(totalRaw)
		paidCents := normalize.Money(paidRaw)

		// Dates come from the explicit date column only; notes can contain
		// unrelated numbers that look like dates.
		paidAt := ""
		if dateRaw != "" {
			paidAt = normalize.Date(dateRaw)
		}

		hasAmounts := totalCents != 0 || paidCents != 0 || remainingCents != 0
		hasDetails := notes != "" || treatment != "" || visitLabel != "" ||
			dateRaw != "" || paidAt != "" || remainingRaw != "" || examFlag || followFlag

		// A bare name without a file number and without any payment
		// information would create a patient for nothing.
		if fileOrPage == "" && name != "" && !hasAmounts && !hasDetails {
			counts.SkippedRows++
			continue
		}
		if !hasAmounts && !hasDetails {
			counts.SkippedRows++
			continue
		}

		if fileOrPage == "" {
			counts.MissingFile++
		}
		if name == "" {
			counts.MissingName++
		}

		if key := identity.LegacyGroupKey(fileOrPage, name, phone); key != "" {
			patientKeys[key] = struct{}{}
		}

		if hasAmounts {
			counts.MoneyPayments++
		} else {
			counts.ZeroEntries++
		}

		records = append(records, &model.PaymentRecord{
			FileOrPage:     fileOrPage,
			FullName:       name,
			Phone:          phone,
			TotalCents:     totalCents,
			PaidCents:      paidCents,
			RemainingCents: remainingCents,
			RawRemaining:   remainingRaw,
			Notes:          notes,
			Treatment:      treatment,
			VisitLabel:     visitLabel,
			PaidAt:         paidAt,
			RawDate:        dateRaw,
			ExamFlag:       examFlag,
			FollowFlag:     followFlag,
			// +2: one for the header row, one for 1-based sheet rows.
			SourceRowID: strconv.Itoa(i + 2),
		})
	}

	counts.Patients = len(patientKeys)
	return records, counts, nil
}

func csvRecords(path string) ([]*model.PaymentRecord, model.ExtractCounts, error) {
	var counts model.ExtractCounts

	rows, err := CSVRows(path)
	if err != nil {
		return nil, counts, err
	}

	var records []*model.PaymentRecord
	patientKeys := make(map[string]struct{})

	for _, row := range rows {
		hasAny := false
		for _, v := range row {
			if v != "" {
				hasAny = true
				break
			}
		}
		if !hasAny {
			continue
		}
		counts.TotalRows++

		fileNumber := firstOf(row, "file_number", "patient_short_id", "patient_file_number", "file")
		pageNumber := firstOf(row, "page_number", "page_numbers")
		name := firstOf(row, "full_name", "patient_name", "name")
		phone := firstOf(row, "phone", "patient_phone")
		dateRaw := firstOf(row, "date", "paid_at")
		notes := firstOf(row, "notes", "note")
		visitType := firstOf(row, "visit_type", "visit")
		treatment := firstOf(row, "treatment_type", "treatment")
		totalRaw := firstOf(row, "total_amount", "total")
		paidRaw := firstOf(row, "paid_today", "paid")
		remainingRaw := firstOf(row, "remaining", "remaining_amount")
		method := firstOf(row, "method", "payment_method")
		discountRaw := firstOf(row, "discount", "discount_amount")
		doctorLabel := firstOf(row, "doctor_label", "doctor")
		paymentID := firstOf(row, "payment_id", "id")

		totalCents := normalize.Money(totalRaw)
		paidCents := normalize.Money(paidRaw)
		remainingCents := normalize.Money(remainingRaw)
		if remainingRaw == "خالص" {
			remainingCents = 0
		}
		discountCents := normalize.Money(discountRaw)

		paidAt := ""
		if dateRaw != "" {
			paidAt = normalize.Date(dateRaw)
		}

		normVisit := normalize.VisitType(visitType)
		examFlag := normVisit == "exam"
		followFlag := normVisit == "followup"

		hasAmounts := totalCents != 0 || paidCents != 0 || remainingCents != 0
		hasDetails := dateRaw != "" || notes != "" || visitType != "" || treatment != "" ||
			remainingRaw != "" || method != "" || discountRaw != "" || doctorLabel != "" || paymentID != ""
		hasPatientInfo := fileNumber != "" || pageNumber != "" || name != "" || phone != ""

		if !hasAmounts && !hasDetails {
			counts.SkippedRows++
			continue
		}
		if !hasPatientInfo {
			counts.SkippedRows++
			continue
		}

		if fileNumber == "" {
			counts.MissingFile++
		}
		if name == "" {
			counts.MissingName++
		}

		if key := identity.LegacyGroupKey(fileNumber, name, phone); key != "" {
			patientKeys[key] = struct{}{}
		}

		if hasAmounts {
			counts.MoneyPayments++
		} else {
			counts.ZeroEntries++
		}

		records = append(records, &model.PaymentRecord{
			FileOrPage:     fileNumber,
			PageNumber:     pageNumber,
			FullName:       name,
			Phone:          phone,
			TotalCents:     totalCents,
			PaidCents:      paidCents,
			RemainingCents: remainingCents,
			RawRemaining:   remainingRaw,
			Notes:          notes,
			Treatment:      treatment,
			VisitLabel:     visitType,
			PaidAt:         paidAt,
			RawDate:        dateRaw,
			ExamFlag:       examFlag,
			FollowFlag:     followFlag,
			Method:         method,
			DiscountCents:  discountCents,
			DoctorLabel:    doctorLabel,
			PaymentID:      paymentID,
		})
	}

	counts.Patients = len(patientKeys)
	return records, counts, nil
}
