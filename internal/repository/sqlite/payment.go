package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
)

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(store repository.Store) repository.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) ExistsEquivalent(ctx context.Context, patientID uuid.UUID, payment *model.Payment) (bool, error) {
	return r.existsEquivalent(ctx, r.db, patientID, payment)
}

func (r *paymentRepository) ExistsEquivalentTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID, payment *model.Payment) (bool, error) {
	return r.existsEquivalent(ctx, tx, patientID, payment)
}

// existsEquivalent matches on the source payment id when the row carries one,
// otherwise on the full content of the payment.
func (r *paymentRepository) existsEquivalent(ctx context.Context, q sqlx.QueryerContext, patientID uuid.UUID, payment *model.Payment) (bool, error) {
	query := `
		SELECT COUNT(1) FROM payments
		WHERE (? != '' AND id = ?)
		   OR (patient_id = ?
			  AND paid_at = ?
			  AND amount_cents = ?
			  AND total_amount_cents = ?
			  AND remaining_cents = ?
			  AND discount_cents = ?
			  AND examination_flag = ?
			  AND followup_flag = ?
			  AND treatment = ?
			  AND note = ?)
	`
	var count int
	err := sqlx.GetContext(ctx, q, &count, query,
		payment.ID,
		payment.ID,
		patientID,
		payment.PaidAt,
		payment.AmountCents,
		payment.TotalAmountCents,
		payment.RemainingCents,
		payment.DiscountCents,
		payment.ExaminationFlag,
		payment.FollowupFlag,
		payment.Treatment,
		payment.Note,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check for equivalent payment: %w", err)
	}
	return count > 0, nil
}

func (r *paymentRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, payment *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, patient_id, paid_at, amount_cents, total_amount_cents,
			remaining_cents, discount_cents, method, note, treatment,
			examination_flag, followup_flag, doctor_id, doctor_label, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = time.Now()

	_, err := tx.ExecContext(ctx, query,
		payment.ID,
		payment.PatientID,
		payment.PaidAt,
		payment.AmountCents,
		payment.TotalAmountCents,
		payment.RemainingCents,
		payment.DiscountCents,
		payment.Method,
		payment.Note,
		payment.Treatment,
		payment.ExaminationFlag,
		payment.FollowupFlag,
		payment.DoctorID,
		payment.DoctorLabel,
		payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}
