package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingPayment is the slice of a confirmed booking the settlement engine needs.
type BookingPayment struct {
	BookingID  uuid.UUID
	HostelID   uuid.UUID
	TotalPrice int64
	Currency   string
	GuestPhone *string
	OwnerPhone *string
}

// HostelOwner resolves who gets paid for a hostel and how.
type HostelOwner struct {
	HostelID      uuid.UUID
	HostelName    string
	OwnerID       uuid.UUID
	OwnerPhone    *string
	PayoutPhone   *string
	PayoutBank    *BankDetails
	CommissionPct *decimal.Decimal
}

// PayoutDestination returns the phone number a mobile-money payout should go to.
func (o *HostelOwner) PayoutDestination() string {
	if o.PayoutPhone != nil && *o.PayoutPhone != "" {
		return *o.PayoutPhone
	}
	if o.OwnerPhone != nil {
		return *o.OwnerPhone
	}
	return ""
}
