package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

// CatalogRepository reads the booking and hostel tables owned by the booking
// service. The settlement engine never writes them except to remember the
// gateway request id of a guest charge.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetBookingForPayment(ctx context.Context, bookingID uuid.UUID) (*domain.BookingPayment, error) {
	var b domain.BookingPayment
	err := r.db.QueryRowContext(ctx,
		`SELECT b.id, b.hostel_id, b.total_price, b.currency, b.guest_phone, u.phone
		FROM bookings b
		JOIN hostels h ON h.id = b.hostel_id
		JOIN users u ON u.id = h.owner_id
		WHERE b.id = $1`, bookingID,
	).Scan(&b.BookingID, &b.HostelID, &b.TotalPrice, &b.Currency, &b.GuestPhone, &b.OwnerPhone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBookingForPayment: booking %s: %w", bookingID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBookingForPayment: %w", err)
	}
	return &b, nil
}

func (r *CatalogRepository) GetHostelOwner(ctx context.Context, hostelID uuid.UUID) (*domain.HostelOwner, error) {
	var o domain.HostelOwner
	var bank *[]byte
	var pct decimal.NullDecimal
	err := r.db.QueryRowContext(ctx,
		`SELECT h.id, h.name, h.owner_id, u.phone, h.payout_phone, h.payout_bank, h.commission_pct
		FROM hostels h
		JOIN users u ON u.id = h.owner_id
		WHERE h.id = $1`, hostelID,
	).Scan(&o.HostelID, &o.HostelName, &o.OwnerID, &o.OwnerPhone, &o.PayoutPhone, &bank, &pct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetHostelOwner: hostel %s: %w", hostelID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetHostelOwner: %w", err)
	}

	if bank != nil {
		var b domain.BankDetails
		if err := json.Unmarshal(*bank, &b); err != nil {
			return nil, fmt.Errorf("GetHostelOwner: payout_bank: %w", err)
		}
		o.PayoutBank = &b
	}
	if pct.Valid {
		o.CommissionPct = &pct.Decimal
	}
	return &o, nil
}

func (r *CatalogRepository) SetChargeRequest(ctx context.Context, bookingID uuid.UUID, gatewayRequestID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET gateway_request_id = $1 WHERE id = $2`,
		gatewayRequestID, bookingID,
	)
	if err != nil {
		return fmt.Errorf("SetChargeRequest: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetChargeRequest: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("SetChargeRequest: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *CatalogRepository) GetBookingByChargeRequest(ctx context.Context, gatewayRequestID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM bookings WHERE gateway_request_id = $1`, gatewayRequestID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("GetBookingByChargeRequest: %w", domain.ErrNotFound)
		}
		return uuid.Nil, fmt.Errorf("GetBookingByChargeRequest: %w", err)
	}
	return id, nil
}
