package model

// PaymentRecord is a single payment row parsed from a legacy spreadsheet or a
// clinic CSV export. It is transient: records exist only between extraction
// and commit/preview.
//
// FileOrPage carries the notebook page number for spreadsheet rows and the
// clinic file number for CSV rows; PageNumber is the optional explicit page
// column of the CSV template.
type PaymentRecord struct {
	FileOrPage     string `json:"file_or_page"`
	PageNumber     string `json:"page_number,omitempty"`
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	TotalCents     int64  `json:"total_cents"`
	PaidCents      int64  `json:"paid_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	RawRemaining   string `json:"raw_remaining,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Treatment      string `json:"treatment,omitempty"`
	VisitLabel     string `json:"visit_label,omitempty"`
	// PaidAt is an ISO date or empty. Empty is valid and distinct from
	// "unparsed": ambiguous cells are deliberately left empty. RawDate keeps
	// the original cell so unparsed dates can be counted and audited.
	PaidAt        string `json:"paid_at,omitempty"`
	RawDate       string `json:"raw_date,omitempty"`
	ExamFlag      bool   `json:"exam_flag"`
	FollowFlag    bool   `json:"follow_flag"`
	Method        string `json:"method,omitempty"`
	DiscountCents int64  `json:"discount_cents"`
	DoctorLabel   string `json:"doctor_label,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	// SourceRowID is the stable identifier of the source row (data-row
	// ordinal for spreadsheets), used for fingerprint tracking.
	SourceRowID string `json:"source_row_id,omitempty"`
}

// HasAmounts reports whether the row carries any monetary value.
func (r *PaymentRecord) HasAmounts() bool {
	return r.TotalCents != 0 || r.PaidCents != 0 || r.RemainingCents != 0
}

// ExtractCounts summarizes one extraction pass over a source file.
type ExtractCounts struct {
	TotalRows     int `json:"total_rows"`
	Patients      int `json:"patients"`
	MoneyPayments int `json:"payments"`
	ZeroEntries   int `json:"zero_entries"`
	SkippedRows   int `json:"skipped_rows"`
	MissingFile   int `json:"missing_file"`
	MissingName   int `json:"missing_name"`
}
