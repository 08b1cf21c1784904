package model

import "time"

// AnyDoctorName is the sentinel doctor that imported payments fall back to
// when the source row names no doctor or names one that does not exist.
const AnyDoctorName = "Any Doctor"

// Doctor is a persisted doctor row.
type Doctor struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
