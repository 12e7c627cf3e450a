package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const reconciliationColumns = `id, booking_id, hostel_id, hostel_owner_id, transaction_id,
	receipt_number, guest_phone, gross_amount, commission_pct, commission_amount,
	tax_amount, host_payable_amount, currency, status, received_at, verified_at,
	verified_by, reconciled_at, failure_reason, notes, is_disputed, dispute_reason,
	dispute_resolved_at, dispute_resolution, gateway_response, attempts, created_by,
	last_updated_by, version, created_at, updated_at`

type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Create inserts the record unless one already exists for the booking. It reports
// whether this call inserted the row.
func (r *ReconciliationRepository) Create(ctx context.Context, rec *domain.Reconciliation) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_reconciliations (`+reconciliationColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31
		) ON CONFLICT (booking_id) DO NOTHING`,
		rec.ID, rec.BookingID, rec.HostelID, rec.HostelOwnerID, rec.TransactionID,
		rec.ReceiptNumber, rec.GuestPhone, rec.GrossAmount, rec.CommissionPct, rec.CommissionAmount,
		rec.TaxAmount, rec.HostPayableAmount, rec.Currency, rec.Status, rec.ReceivedAt, rec.VerifiedAt,
		nullUUID(rec.VerifiedBy), rec.ReconciledAt, rec.FailureReason, rec.Notes, rec.IsDisputed, rec.DisputeReason,
		rec.DisputeResolvedAt, rec.DisputeResolution, nullJSON(rec.GatewayResponse), rec.Attempts, rec.CreatedBy,
		rec.LastUpdatedBy, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, fmt.Errorf("Create: transaction or receipt already recorded: %w", domain.ErrConflict)
		}
		return false, fmt.Errorf("Create: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Create: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations WHERE id = $1`, id,
	)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return rec, nil
}

func (r *ReconciliationRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Reconciliation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations WHERE booking_id = $1`, bookingID,
	)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByBookingID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	return rec, nil
}

func (r *ReconciliationRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Reconciliation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations WHERE id = $1 FOR UPDATE`, id,
	)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return rec, nil
}

// Update writes the mutable fields back, guarded by the row version.
func (r *ReconciliationRepository) Update(ctx context.Context, tx *sql.Tx, rec *domain.Reconciliation) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_reconciliations SET
			receipt_number = $1, status = $2, received_at = $3, verified_at = $4,
			verified_by = $5, reconciled_at = $6, failure_reason = $7, notes = $8,
			is_disputed = $9, dispute_reason = $10, dispute_resolved_at = $11,
			dispute_resolution = $12, gateway_response = $13, attempts = $14,
			last_updated_by = $15, version = version + 1, updated_at = now()
		WHERE id = $16 AND version = $17`,
		rec.ReceiptNumber, rec.Status, rec.ReceivedAt, rec.VerifiedAt,
		nullUUID(rec.VerifiedBy), rec.ReconciledAt, rec.FailureReason, rec.Notes,
		rec.IsDisputed, rec.DisputeReason, rec.DisputeResolvedAt,
		rec.DisputeResolution, nullJSON(rec.GatewayResponse), rec.Attempts,
		rec.LastUpdatedBy, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
	}
	rec.Version++
	return nil
}

// ListVerifiedForUpdate locks every verified reconciliation of the hostel whose
// verification time falls in [from, to).
func (r *ReconciliationRepository) ListVerifiedForUpdate(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID, from, to time.Time) ([]domain.Reconciliation, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations
		WHERE hostel_id = $1 AND status = $2 AND verified_at >= $3 AND verified_at < $4
		ORDER BY verified_at, id
		FOR UPDATE`,
		hostelID, domain.ReconciliationStatusVerified, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("ListVerifiedForUpdate: %w", err)
	}
	defer rows.Close()

	recs, err := collectReconciliations(rows)
	if err != nil {
		return nil, fmt.Errorf("ListVerifiedForUpdate: %w", err)
	}
	return recs, nil
}

// MarkReconciled flips the given records from verified to reconciled and returns
// how many rows actually moved. Callers compare the count to detect lost claims.
func (r *ReconciliationRepository) MarkReconciled(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, at time.Time, by string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_reconciliations SET
			status = $1, reconciled_at = $2, last_updated_by = $3,
			version = version + 1, updated_at = now()
		WHERE id = ANY($4::uuid[]) AND status = $5`,
		domain.ReconciliationStatusReconciled, at, by,
		pq.Array(uuidStrings(ids)), domain.ReconciliationStatusVerified,
	)
	if err != nil {
		return 0, fmt.Errorf("MarkReconciled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("MarkReconciled: rows affected: %w", err)
	}
	return n, nil
}

// ReleaseToVerified returns reconciled records to verified so that they can be
// batched again.
func (r *ReconciliationRepository) ReleaseToVerified(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, by string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_reconciliations SET
			status = $1, reconciled_at = NULL, last_updated_by = $2,
			version = version + 1, updated_at = now()
		WHERE id = ANY($3::uuid[]) AND status = $4`,
		domain.ReconciliationStatusVerified, by,
		pq.Array(uuidStrings(ids)), domain.ReconciliationStatusReconciled,
	)
	if err != nil {
		return 0, fmt.Errorf("ReleaseToVerified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ReleaseToVerified: rows affected: %w", err)
	}
	return n, nil
}

func (r *ReconciliationRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Reconciliation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations
		WHERE id = ANY($1::uuid[]) ORDER BY verified_at, id`,
		pq.Array(uuidStrings(ids)),
	)
	if err != nil {
		return nil, fmt.Errorf("ListByIDs: %w", err)
	}
	defer rows.Close()

	recs, err := collectReconciliations(rows)
	if err != nil {
		return nil, fmt.Errorf("ListByIDs: %w", err)
	}
	return recs, nil
}

func (r *ReconciliationRepository) List(ctx context.Context, f domain.ReconciliationFilter, limit, offset int) ([]domain.Reconciliation, int, error) {
	var w where
	if f.Status != nil {
		w.add("status = $%d", *f.Status)
	}
	if f.HostelID != nil {
		w.add("hostel_id = $%d", *f.HostelID)
	}
	if f.HostelOwnerID != nil {
		w.add("hostel_owner_id = $%d", *f.HostelOwnerID)
	}
	if f.TransactionID != "" {
		w.add("transaction_id = $%d", f.TransactionID)
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_reconciliations`+w.sql(), w.args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("List: count: %w", err)
	}

	n := w.next()
	args := append(w.args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM payment_reconciliations`+w.sql()+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	recs, err := collectReconciliations(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	return recs, total, nil
}

// EarningsForOwner aggregates verified and reconciled payments of an owner whose
// verification time falls in [from, to).
func (r *ReconciliationRepository) EarningsForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (*domain.HostEarnings, error) {
	e := &domain.HostEarnings{HostelOwnerID: ownerID}
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(gross_amount), 0), COALESCE(SUM(commission_amount), 0),
			COALESCE(SUM(host_payable_amount), 0), COUNT(*)
		FROM payment_reconciliations
		WHERE hostel_owner_id = $1 AND status IN ($2, $3)
			AND verified_at >= $4 AND verified_at < $5`,
		ownerID, domain.ReconciliationStatusVerified, domain.ReconciliationStatusReconciled, from, to,
	).Scan(&e.GrossAmount, &e.CommissionAmount, &e.Earnings, &e.TransactionCount)
	if err != nil {
		return nil, fmt.Errorf("EarningsForOwner: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_reconciliations
		WHERE hostel_owner_id = $1 AND status IN ($2, $3)
			AND created_at >= $4 AND created_at < $5`,
		ownerID, domain.ReconciliationStatusPending, domain.ReconciliationStatusReceived, from, to,
	).Scan(&e.PendingVerifyCount)
	if err != nil {
		return nil, fmt.Errorf("EarningsForOwner: pending: %w", err)
	}
	return e, nil
}

// UnsettledHostel is a hostel holding verified payments not yet in a settlement.
type UnsettledHostel struct {
	HostelID         uuid.UUID
	EarliestVerified time.Time
	Count            int
}

func (r *ReconciliationRepository) HostelsWithUnsettled(ctx context.Context, before time.Time) ([]UnsettledHostel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hostel_id, MIN(verified_at), COUNT(*) FROM payment_reconciliations
		WHERE status = $1 AND verified_at < $2
		GROUP BY hostel_id ORDER BY MIN(verified_at)`,
		domain.ReconciliationStatusVerified, before,
	)
	if err != nil {
		return nil, fmt.Errorf("HostelsWithUnsettled: %w", err)
	}
	defer rows.Close()

	var out []UnsettledHostel
	for rows.Next() {
		var h UnsettledHostel
		if err := rows.Scan(&h.HostelID, &h.EarliestVerified, &h.Count); err != nil {
			return nil, fmt.Errorf("HostelsWithUnsettled: scan: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("HostelsWithUnsettled: rows: %w", err)
	}
	return out, nil
}

func collectReconciliations(rows *sql.Rows) ([]domain.Reconciliation, error) {
	var recs []domain.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return recs, nil
}

func scanReconciliation(s scanner) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	var verifiedBy uuid.NullUUID
	var gatewayResponse *[]byte

	err := s.Scan(
		&rec.ID, &rec.BookingID, &rec.HostelID, &rec.HostelOwnerID, &rec.TransactionID,
		&rec.ReceiptNumber, &rec.GuestPhone, &rec.GrossAmount, &rec.CommissionPct, &rec.CommissionAmount,
		&rec.TaxAmount, &rec.HostPayableAmount, &rec.Currency, &rec.Status, &rec.ReceivedAt, &rec.VerifiedAt,
		&verifiedBy, &rec.ReconciledAt, &rec.FailureReason, &rec.Notes, &rec.IsDisputed, &rec.DisputeReason,
		&rec.DisputeResolvedAt, &rec.DisputeResolution, &gatewayResponse, &rec.Attempts, &rec.CreatedBy,
		&rec.LastUpdatedBy, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if verifiedBy.Valid {
		rec.VerifiedBy = &verifiedBy.UUID
	}
	if gatewayResponse != nil {
		rec.GatewayResponse = json.RawMessage(*gatewayResponse)
	}
	return &rec, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
