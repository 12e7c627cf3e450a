package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Split is the platform/host division of one guest payment, in minor units.
type Split struct {
	GrossAmount       int64
	CommissionPct     decimal.Decimal
	CommissionAmount  int64
	TaxPct            decimal.Decimal
	TaxAmount         int64
	HostPayableAmount int64
}

type Policy struct {
	defaultPct decimal.Decimal
	taxPct     decimal.Decimal
}

func NewPolicy(defaultPct, taxPct float64) *Policy {
	return &Policy{
		defaultPct: decimal.NewFromFloat(defaultPct),
		taxPct:     decimal.NewFromFloat(taxPct),
	}
}

func (p *Policy) DefaultPct() decimal.Decimal {
	return p.defaultPct
}

// Resolve returns the hostel's own percentage when one is set, else the default.
func (p *Policy) Resolve(override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return p.defaultPct
}

// SplitFor computes the split for a hostel, honouring its override.
func (p *Policy) SplitFor(gross int64, override *decimal.Decimal) (*Split, error) {
	s, err := Compute(gross, p.Resolve(override), p.taxPct)
	if err != nil {
		return nil, fmt.Errorf("SplitFor: %w", err)
	}
	return s, nil
}

// Compute rounds commission and tax half away from zero to whole minor units;
// the host receives whatever remains so the three parts always sum to gross.
func Compute(gross int64, commissionPct, taxPct decimal.Decimal) (*Split, error) {
	if gross < 0 {
		return nil, fmt.Errorf("Compute: %w", domain.ErrInvalidAmount)
	}
	if !validPct(commissionPct) || !validPct(taxPct) {
		return nil, fmt.Errorf("Compute: %w", domain.ErrInvalidCommission)
	}
	if commissionPct.Add(taxPct).GreaterThan(hundred) {
		return nil, fmt.Errorf("Compute: commission and tax exceed gross: %w", domain.ErrInvalidCommission)
	}

	g := decimal.NewFromInt(gross)
	commission := g.Mul(commissionPct).Div(hundred).Round(0).IntPart()
	tax := g.Mul(taxPct).Div(hundred).Round(0).IntPart()

	host := gross - commission - tax
	if host < 0 {
		// rounding both parts up can overshoot by one unit
		tax += host
		host = 0
	}

	return &Split{
		GrossAmount:       gross,
		CommissionPct:     commissionPct,
		CommissionAmount:  commission,
		TaxPct:            taxPct,
		TaxAmount:         tax,
		HostPayableAmount: host,
	}, nil
}

func validPct(p decimal.Decimal) bool {
	return !p.IsNegative() && !p.GreaterThan(hundred)
}
