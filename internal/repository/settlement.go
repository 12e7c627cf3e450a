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

const settlementColumns = `id, reference, hostel_id, hostel_owner_id, period_start, period_end,
	total_gross_amount, total_commission_amount, total_tax_amount, total_payable_amount,
	transaction_count, currency, payout_status, payout_method, payout_phone, payout_bank,
	payout_date, processed_date, payout_transaction_id, on_hold, hold_reason, held_at,
	released_at, admin_notes, is_disputed, dispute_reason, disputed_by, dispute_resolved_at,
	dispute_resolution, created_by, last_updated_by, version, created_at, updated_at`

const approvalColumns = `id, settlement_id, approved_by, role, notes, approved_at`

const settlementReferenceConstraint = "payment_settlements_reference_key"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SettlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// LockHostel serialises settlement creation per hostel for the rest of tx.
func (r *SettlementRepository) LockHostel(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "settlement:"+hostelID.String(),
	)
	if err != nil {
		return fmt.Errorf("LockHostel: %w", err)
	}
	return nil
}

func (r *SettlementRepository) FindActiveOverlapping(ctx context.Context, tx *sql.Tx, hostelID uuid.UUID, start, end time.Time) ([]domain.Settlement, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM payment_settlements
		WHERE hostel_id = $1 AND payout_status = ANY($2::text[])
			AND period_start <= $3 AND period_end >= $4
		ORDER BY period_start`,
		hostelID, pq.Array(payoutStatusStrings(domain.ActivePayoutStatuses)), sqlDate(end), sqlDate(start),
	)
	if err != nil {
		return nil, fmt.Errorf("FindActiveOverlapping: %w", err)
	}
	defer rows.Close()

	settlements, err := collectSettlements(rows)
	if err != nil {
		return nil, fmt.Errorf("FindActiveOverlapping: %w", err)
	}
	return settlements, nil
}

// Create inserts the settlement. A reference collision is reported as
// ErrDuplicateIdempotencyKey so the caller can draw a new reference.
func (r *SettlementRepository) Create(ctx context.Context, tx *sql.Tx, s *domain.Settlement) error {
	bank, err := bankJSON(s.PayoutBank)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_settlements (`+settlementColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34
		)`,
		s.ID, s.Reference, s.HostelID, s.HostelOwnerID, sqlDate(s.PeriodStart), sqlDate(s.PeriodEnd),
		s.TotalGrossAmount, s.TotalCommissionAmount, s.TotalTaxAmount, s.TotalPayableAmount,
		s.TransactionCount, s.Currency, s.PayoutStatus, s.PayoutMethod, s.PayoutPhone, bank,
		s.PayoutDate, s.ProcessedDate, s.PayoutTransactionID, s.OnHold, s.HoldReason, s.HeldAt,
		s.ReleasedAt, s.AdminNotes, s.IsDisputed, s.DisputeReason, nullUUID(s.DisputedBy), s.DisputeResolvedAt,
		s.DisputeResolution, s.CreatedBy, nullUUID(s.LastUpdatedBy), s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if UniqueViolationOn(err, settlementReferenceConstraint) {
			return fmt.Errorf("Create: reference %s: %w", s.Reference, domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// AddMembers records which reconciliations the settlement swept up. A
// reconciliation that is already a live member elsewhere fails with ErrConflict.
func (r *SettlementRepository) AddMembers(ctx context.Context, tx *sql.Tx, settlementID uuid.UUID, reconciliationIDs []uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_reconciliations (settlement_id, reconciliation_id)
		SELECT $1, unnest($2::uuid[])`,
		settlementID, pq.Array(uuidStrings(reconciliationIDs)),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("AddMembers: reconciliation already settled: %w", domain.ErrConflict)
		}
		return fmt.Errorf("AddMembers: %w", err)
	}
	return nil
}

// ReleaseMembers detaches every live member and returns the released ids.
func (r *SettlementRepository) ReleaseMembers(ctx context.Context, tx *sql.Tx, settlementID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx,
		`UPDATE settlement_reconciliations SET released_at = now()
		WHERE settlement_id = $1 AND released_at IS NULL
		RETURNING reconciliation_id`,
		settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("ReleaseMembers: %w", err)
	}
	defer rows.Close()

	ids, err := collectUUIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("ReleaseMembers: %w", err)
	}
	return ids, nil
}

func (r *SettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM payment_settlements WHERE id = $1`, id,
	)
	s, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	if err := r.loadRelations(ctx, r.db, s); err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return s, nil
}

func (r *SettlementRepository) GetByReference(ctx context.Context, reference string) (*domain.Settlement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM payment_settlements WHERE reference = $1`, reference,
	)
	s, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	if err := r.loadRelations(ctx, r.db, s); err != nil {
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return s, nil
}

func (r *SettlementRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Settlement, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM payment_settlements WHERE id = $1 FOR UPDATE`, id,
	)
	s, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	if err := r.loadRelations(ctx, tx, s); err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return s, nil
}

// Update writes the mutable fields back, guarded by the row version.
func (r *SettlementRepository) Update(ctx context.Context, tx *sql.Tx, s *domain.Settlement) error {
	bank, err := bankJSON(s.PayoutBank)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE payment_settlements SET
			payout_status = $1, payout_method = $2, payout_phone = $3, payout_bank = $4,
			payout_date = $5, processed_date = $6, payout_transaction_id = $7,
			on_hold = $8, hold_reason = $9, held_at = $10, released_at = $11,
			admin_notes = $12, is_disputed = $13, dispute_reason = $14, disputed_by = $15,
			dispute_resolved_at = $16, dispute_resolution = $17, last_updated_by = $18,
			version = version + 1, updated_at = now()
		WHERE id = $19 AND version = $20`,
		s.PayoutStatus, s.PayoutMethod, s.PayoutPhone, bank,
		s.PayoutDate, s.ProcessedDate, s.PayoutTransactionID,
		s.OnHold, s.HoldReason, s.HeldAt, s.ReleasedAt,
		s.AdminNotes, s.IsDisputed, s.DisputeReason, nullUUID(s.DisputedBy),
		s.DisputeResolvedAt, s.DisputeResolution, nullUUID(s.LastUpdatedBy),
		s.ID, s.Version,
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
	s.Version++
	return nil
}

func (r *SettlementRepository) AddApproval(ctx context.Context, tx *sql.Tx, a *domain.Approval) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_approvals (`+approvalColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.SettlementID, a.ApprovedBy, a.Role, a.Notes, a.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("AddApproval: %w", err)
	}
	return nil
}

func (r *SettlementRepository) List(ctx context.Context, f domain.SettlementFilter, limit, offset int) ([]domain.Settlement, int, error) {
	w := settlementWhere(f)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_settlements`+w.sql(), w.args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("List: count: %w", err)
	}

	n := w.next()
	args := append(w.args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM payment_settlements`+w.sql()+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	settlements, err := collectSettlements(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}

	for i := range settlements {
		approvals, err := r.listApprovals(ctx, r.db, settlements[i].ID)
		if err != nil {
			return nil, 0, fmt.Errorf("List: %w", err)
		}
		settlements[i].Approvals = approvals
	}
	return settlements, total, nil
}

// Stats aggregates payable totals per payout status. Cancelled batches are
// counted but excluded from the money totals, since their payments return to the
// pool and are settled again.
func (r *SettlementRepository) Stats(ctx context.Context, f domain.SettlementFilter) (*domain.SettlementStats, error) {
	w := settlementWhere(f)

	rows, err := r.db.QueryContext(ctx,
		`SELECT payout_status, COUNT(*), COALESCE(SUM(total_payable_amount), 0),
			COALESCE(ROUND(AVG(total_payable_amount)), 0)::BIGINT,
			COALESCE(SUM(total_commission_amount), 0), COALESCE(SUM(total_gross_amount), 0)
		FROM payment_settlements`+w.sql()+`
		GROUP BY payout_status ORDER BY payout_status`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.SettlementStats{ByStatus: []domain.StatusStats{}}
	for rows.Next() {
		var st domain.StatusStats
		var commission, gross int64
		if err := rows.Scan(&st.PayoutStatus, &st.Count, &st.TotalAmount, &st.AvgAmount, &commission, &gross); err != nil {
			return nil, fmt.Errorf("Stats: scan: %w", err)
		}
		stats.ByStatus = append(stats.ByStatus, st)
		stats.TotalSettlements += st.Count

		switch st.PayoutStatus {
		case domain.PayoutStatusProcessed:
			stats.TotalPaidOut += st.TotalAmount
		case domain.PayoutStatusPending, domain.PayoutStatusApproved, domain.PayoutStatusScheduled, domain.PayoutStatusFailed:
			stats.TotalPending += st.TotalAmount
		}
		if st.PayoutStatus != domain.PayoutStatusCancelled {
			stats.TotalPlatformFees += commission
			stats.TotalGrossAmount += gross
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Stats: rows: %w", err)
	}
	return stats, nil
}

// PaidOutForOwner sums processed payouts of an owner in [from, to).
func (r *SettlementRepository) PaidOutForOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) (int64, int, error) {
	var total int64
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_payable_amount), 0), COUNT(*) FROM payment_settlements
		WHERE hostel_owner_id = $1 AND payout_status = $2
			AND processed_date >= $3 AND processed_date < $4`,
		ownerID, domain.PayoutStatusProcessed, from, to,
	).Scan(&total, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("PaidOutForOwner: %w", err)
	}
	return total, count, nil
}

func (r *SettlementRepository) loadRelations(ctx context.Context, q querier, s *domain.Settlement) error {
	approvals, err := r.listApprovals(ctx, q, s.ID)
	if err != nil {
		return err
	}
	s.Approvals = approvals

	rows, err := q.QueryContext(ctx,
		`SELECT reconciliation_id FROM settlement_reconciliations
		WHERE settlement_id = $1 ORDER BY created_at, reconciliation_id`, s.ID,
	)
	if err != nil {
		return fmt.Errorf("loadRelations: members: %w", err)
	}
	defer rows.Close()

	ids, err := collectUUIDs(rows)
	if err != nil {
		return fmt.Errorf("loadRelations: members: %w", err)
	}
	s.ReconciliationIDs = ids
	return nil
}

func (r *SettlementRepository) listApprovals(ctx context.Context, q querier, settlementID uuid.UUID) ([]domain.Approval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM settlement_approvals
		WHERE settlement_id = $1 ORDER BY approved_at, id`, settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("listApprovals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.SettlementID, &a.ApprovedBy, &a.Role, &a.Notes, &a.ApprovedAt); err != nil {
			return nil, fmt.Errorf("listApprovals: scan: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listApprovals: rows: %w", err)
	}
	return approvals, nil
}

func settlementWhere(f domain.SettlementFilter) *where {
	w := &where{}
	if f.HostelID != nil {
		w.add("hostel_id = $%d", *f.HostelID)
	}
	if f.HostelOwnerID != nil {
		w.add("hostel_owner_id = $%d", *f.HostelOwnerID)
	}
	if f.PayoutStatus != nil {
		w.add("payout_status = $%d", *f.PayoutStatus)
	}
	if f.StartDate != nil {
		w.add("period_start >= $%d", sqlDate(*f.StartDate))
	}
	if f.EndDate != nil {
		w.add("period_start <= $%d", sqlDate(*f.EndDate))
	}
	return w
}

func collectSettlements(rows *sql.Rows) ([]domain.Settlement, error) {
	var settlements []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		settlements = append(settlements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return settlements, nil
}

func collectUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return ids, nil
}

func scanSettlement(s scanner) (*domain.Settlement, error) {
	var st domain.Settlement
	var bank *[]byte
	var disputedBy, lastUpdatedBy uuid.NullUUID

	err := s.Scan(
		&st.ID, &st.Reference, &st.HostelID, &st.HostelOwnerID, &st.PeriodStart, &st.PeriodEnd,
		&st.TotalGrossAmount, &st.TotalCommissionAmount, &st.TotalTaxAmount, &st.TotalPayableAmount,
		&st.TransactionCount, &st.Currency, &st.PayoutStatus, &st.PayoutMethod, &st.PayoutPhone, &bank,
		&st.PayoutDate, &st.ProcessedDate, &st.PayoutTransactionID, &st.OnHold, &st.HoldReason, &st.HeldAt,
		&st.ReleasedAt, &st.AdminNotes, &st.IsDisputed, &st.DisputeReason, &disputedBy, &st.DisputeResolvedAt,
		&st.DisputeResolution, &st.CreatedBy, &lastUpdatedBy, &st.Version, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bank != nil {
		var b domain.BankDetails
		if err := json.Unmarshal(*bank, &b); err != nil {
			return nil, fmt.Errorf("payout_bank: %w", err)
		}
		st.PayoutBank = &b
	}
	if disputedBy.Valid {
		st.DisputedBy = &disputedBy.UUID
	}
	if lastUpdatedBy.Valid {
		st.LastUpdatedBy = &lastUpdatedBy.UUID
	}
	return &st, nil
}

func bankJSON(b *domain.BankDetails) (any, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal payout bank: %w", err)
	}
	return raw, nil
}

// sqlDate binds a period bound to a DATE column as a calendar date. A
// time.Time would be sent as a timestamp and cast in the session time zone.
func sqlDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func payoutStatusStrings(statuses []domain.PayoutStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
