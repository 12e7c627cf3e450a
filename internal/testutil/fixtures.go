package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

// SystemUserID is the actor seeded by the first migration.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func SeedTestUser(t *testing.T, db *sql.DB, email, name string, role domain.Role) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	phone := "0772000111"
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		Phone:        &phone,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, phone, password_hash, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.Phone, u.PasswordHash, u.Role, u.Status, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test user %s: %v", email, err)
	}
	return u
}

type HostelOpts struct {
	PayoutPhone   string
	CommissionPct string
}

func SeedHostel(t *testing.T, db *sql.DB, ownerID uuid.UUID, opts HostelOpts) uuid.UUID {
	t.Helper()

	var payoutPhone, pct any
	if opts.PayoutPhone != "" {
		payoutPhone = opts.PayoutPhone
	}
	if opts.CommissionPct != "" {
		pct = opts.CommissionPct
	}

	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO hostels (id, name, owner_id, payout_phone, commission_pct)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, "Hostel "+id.String()[:8], ownerID, payoutPhone, pct,
	)
	if err != nil {
		t.Fatalf("seed hostel for owner %s: %v", ownerID, err)
	}
	return id
}

func SeedBooking(t *testing.T, db *sql.DB, hostelID uuid.UUID, totalPrice int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO bookings (id, hostel_id, guest_phone, total_price, currency)
		 VALUES ($1, $2, $3, $4, 'UGX')`,
		id, hostelID, "0701234567", totalPrice,
	)
	if err != nil {
		t.Fatalf("seed booking for hostel %s: %v", hostelID, err)
	}
	return id
}

// SeedVerifiedReconciliation inserts a verified payment with a 15% commission
// split, bypassing the services.
func SeedVerifiedReconciliation(t *testing.T, db *sql.DB, hostelID, ownerID uuid.UUID, gross int64, verifiedAt time.Time) uuid.UUID {
	t.Helper()

	bookingID := SeedBooking(t, db, hostelID, gross)
	commission := (gross*15 + 50) / 100
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO payment_reconciliations (
			id, booking_id, hostel_id, hostel_owner_id, transaction_id, gross_amount,
			commission_pct, commission_amount, tax_amount, host_payable_amount, currency,
			status, received_at, verified_at, created_by, last_updated_by, version
		) VALUES ($1, $2, $3, $4, $5, $6, 15, $7, 0, $8, 'UGX', 'verified', $9, $9, 'test', 'test', 1)`,
		id, bookingID, hostelID, ownerID, "TX-"+id.String(), gross,
		commission, gross-commission, verifiedAt,
	)
	if err != nil {
		t.Fatalf("seed verified reconciliation for hostel %s: %v", hostelID, err)
	}
	return id
}

func GetReconciliationStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.ReconciliationStatus {
	t.Helper()

	var status domain.ReconciliationStatus
	err := db.QueryRow(`SELECT status FROM payment_reconciliations WHERE id = $1`, id).Scan(&status)
	if err != nil {
		t.Fatalf("get reconciliation status %s: %v", id, err)
	}
	return status
}

func CountActiveMemberships(t *testing.T, db *sql.DB, reconciliationID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM settlement_reconciliations WHERE reconciliation_id = $1 AND released_at IS NULL`,
		reconciliationID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count memberships for reconciliation %s: %v", reconciliationID, err)
	}
	return count
}

func CountSettlementEvents(t *testing.T, db *sql.DB, settlementID uuid.UUID, eventType domain.SettlementEventType) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM settlement_events WHERE settlement_id = $1 AND event_type = $2`,
		settlementID, eventType,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count settlement events for %s: %v", settlementID, err)
	}
	return count
}
