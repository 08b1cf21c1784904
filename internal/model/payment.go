package model

import (
	"time"

	"github.com/google/uuid"
)

// Payment is a persisted payment row. Monetary values are integer minor
// currency units and always non-negative.
type Payment struct {
	ID               string    `db:"id" json:"id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	PaidAt           string    `db:"paid_at" json:"paid_at"`
	AmountCents      int64     `db:"amount_cents" json:"amount_cents"`
	TotalAmountCents int64     `db:"total_amount_cents" json:"total_amount_cents"`
	RemainingCents   int64     `db:"remaining_cents" json:"remaining_cents"`
	DiscountCents    int64     `db:"discount_cents" json:"discount_cents"`
	Method           string    `db:"method" json:"method"`
	Note             string    `db:"note" json:"note"`
	Treatment        string    `db:"treatment" json:"treatment"`
	ExaminationFlag  int       `db:"examination_flag" json:"examination_flag"`
	FollowupFlag     int       `db:"followup_flag" json:"followup_flag"`
	DoctorID         string    `db:"doctor_id" json:"doctor_id"`
	DoctorLabel      string    `db:"doctor_label" json:"doctor_label"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// RowFingerprint tracks the content hash of a previously imported source row,
// keyed by (source kind, stable row key). Append-only except for hash updates.
type RowFingerprint struct {
	SourceKind  string    `db:"source_kind" json:"source_kind"`
	RowKey      string    `db:"row_key" json:"row_key"`
	Fingerprint string    `db:"row_fingerprint" json:"row_fingerprint"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
