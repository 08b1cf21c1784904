package model

import (
	"strings"
	"time"
)

// SourceKind identifies the input file family.
type SourceKind string

const (
	SourceSpreadsheet SourceKind = "spreadsheet"
	SourceCSV         SourceKind = "csv"
)

// Mode is the identity-resolution strictness mode.
type Mode string

const (
	ModeSafe       Mode = "safe"
	ModeNormal     Mode = "normal"
	ModeAggressive Mode = "aggressive"
)

// NormalizeMode folds unknown or empty values to ModeSafe.
func NormalizeMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNormal:
		return ModeNormal
	case ModeAggressive:
		return ModeAggressive
	default:
		return ModeSafe
	}
}

// ImportOptions are the recognized import configuration options.
type ImportOptions struct {
	SourceKind                 SourceKind `json:"source_kind" validate:"required,oneof=spreadsheet csv"`
	Mode                       Mode       `json:"mode" validate:"required,oneof=safe normal aggressive"`
	SkipDuplicates             bool       `json:"skip_duplicates"`
	ImportZeroAmountEntries    bool       `json:"import_zero_entries"`
	NeverAutoMergeByPageNumber bool       `json:"never_auto_merge"`
	MaxConflictPreview         int        `json:"max_conflict_preview"`
}

// DefaultImportOptions mirrors the clinic's saved preferences when the
// caller supplies nothing.
func DefaultImportOptions(kind SourceKind) ImportOptions {
	return ImportOptions{
		SourceKind:                 kind,
		Mode:                       ModeSafe,
		SkipDuplicates:             true,
		ImportZeroAmountEntries:    true,
		NeverAutoMergeByPageNumber: true,
		MaxConflictPreview:         50,
	}
}

// PageConflict records a page number that matched an existing patient whose
// name did not match the incoming row. Conflicts never cause a merge; a new
// patient is created and the conflict is surfaced in the report.
type PageConflict struct {
	PageNumber         string `json:"page_number"`
	IncomingName       string `json:"incoming_name"`
	IncomingPhone      string `json:"incoming_phone"`
	ExistingName       string `json:"existing_name"`
	ExistingPhone      string `json:"existing_phone"`
	ExistingFileNumber string `json:"existing_file_number"`
}

// ImportCounters are the per-run outcome counters. Preflight and commit fill
// the same struct; the preview/commit parity contract is that the row and
// patient counters are equal for identical input and options.
type ImportCounters struct {
	UniquePatientsInFile      int `json:"unique_patients_in_file"`
	CreatedPatients           int `json:"created_patients"`
	MatchedPatients           int `json:"matched_patients"`
	CreatedPatientsNoPayments int `json:"created_patients_no_payments_imported"`
	FileNumberCollisions      int `json:"file_number_collisions"`
	InsertedMoneyPayments     int `json:"inserted_money_payments"`
	InsertedZeroEntries       int `json:"inserted_zero_entries"`
	SkippedDuplicates         int `json:"skipped_duplicates"`
	SkippedEditedRows         int `json:"skipped_edited_existing_rows"`
	SkippedZeroEntries        int `json:"skipped_zero_entries"`
	UnknownDatesLeftBlank     int `json:"unknown_dates_left_blank"`
	PageConflicts             int `json:"page_number_conflicts"`
	PageNumbersSaved          int `json:"page_numbers_saved"`
	PrimaryPagesSet           int `json:"primary_pages_set"`
}

// ImportReport is the write-once artifact persisted after every commit.
type ImportReport struct {
	Name                 string         `json:"name"`
	Timestamp            time.Time      `json:"timestamp"`
	Filename             string         `json:"filename"`
	SourceKind           SourceKind     `json:"source_kind"`
	Options              ImportOptions  `json:"options"`
	Counts               ExtractCounts  `json:"counts"`
	Results              ImportCounters `json:"results"`
	PageConflictsPreview []PageConflict `json:"page_conflicts_preview"`
	BackupPath           string         `json:"backup_path"`
}
