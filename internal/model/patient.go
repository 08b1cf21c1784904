package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the persisted patient identity owned by the relational store.
// Imports create patients and attach page numbers; they never delete or merge.
type Patient struct {
	ID                uuid.UUID `db:"id" json:"id"`
	ShortID           string    `db:"short_id" json:"short_id"`
	FullName          string    `db:"full_name" json:"full_name"`
	Phone             string    `db:"phone" json:"phone"`
	Notes             string    `db:"notes" json:"notes"`
	PrimaryPageNumber string    `db:"primary_page_number" json:"primary_page_number"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PatientPage is one notebook page attached to a patient. Page numbers are
// not unique across patients: notebooks reuse them.
type PatientPage struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	PageNumber   string    `db:"page_number" json:"page_number"`
	NotebookName string    `db:"notebook_name" json:"notebook_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
