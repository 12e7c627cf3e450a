package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name           string
		gross          int64
		commissionPct  string
		taxPct         string
		wantCommission int64
		wantTax        int64
		wantHost       int64
		wantErr        error
	}{
		{
			name:           "default fifteen percent",
			gross:          100_000,
			commissionPct:  "15",
			taxPct:         "0",
			wantCommission: 15_000,
			wantHost:       85_000,
		},
		{
			name:           "rounds half up",
			gross:          10,
			commissionPct:  "15",
			taxPct:         "0",
			wantCommission: 2,
			wantHost:       8,
		},
		{
			name:           "rounds down below half",
			gross:          33,
			commissionPct:  "15",
			taxPct:         "0",
			wantCommission: 5,
			wantHost:       28,
		},
		{
			name:           "fractional percentage",
			gross:          200_000,
			commissionPct:  "12.5",
			taxPct:         "0",
			wantCommission: 25_000,
			wantHost:       175_000,
		},
		{
			name:           "with tax",
			gross:          100_000,
			commissionPct:  "15",
			taxPct:         "18",
			wantCommission: 15_000,
			wantTax:        18_000,
			wantHost:       67_000,
		},
		{
			name:           "zero gross",
			gross:          0,
			commissionPct:  "15",
			taxPct:         "0",
			wantCommission: 0,
			wantHost:       0,
		},
		{
			name:          "negative gross",
			gross:         -1,
			commissionPct: "15",
			taxPct:        "0",
			wantErr:       domain.ErrInvalidAmount,
		},
		{
			name:          "percentage above hundred",
			gross:         1000,
			commissionPct: "101",
			taxPct:        "0",
			wantErr:       domain.ErrInvalidCommission,
		},
		{
			name:          "negative percentage",
			gross:         1000,
			commissionPct: "-1",
			taxPct:        "0",
			wantErr:       domain.ErrInvalidCommission,
		},
		{
			name:          "commission plus tax above hundred",
			gross:         1000,
			commissionPct: "60",
			taxPct:        "50",
			wantErr:       domain.ErrInvalidCommission,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Compute(tc.gross, decimal.RequireFromString(tc.commissionPct), decimal.RequireFromString(tc.taxPct))

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantCommission, s.CommissionAmount)
			assert.Equal(t, tc.wantTax, s.TaxAmount)
			assert.Equal(t, tc.wantHost, s.HostPayableAmount)
			assert.Equal(t, tc.gross, s.CommissionAmount+s.TaxAmount+s.HostPayableAmount)
		})
	}
}

func TestCompute_SplitAlwaysBalances(t *testing.T) {
	pcts := []string{"0", "1", "7.5", "15", "33.333", "99.9", "100"}
	for _, pct := range pcts {
		for gross := int64(0); gross < 2_000; gross += 37 {
			s, err := Compute(gross, decimal.RequireFromString(pct), decimal.Zero)
			require.NoError(t, err)
			require.Equal(t, gross, s.HostPayableAmount+s.CommissionAmount,
				"gross=%d pct=%s", gross, pct)
			require.GreaterOrEqual(t, s.HostPayableAmount, int64(0))
		}
	}
}

func TestPolicy_SplitFor(t *testing.T) {
	p := NewPolicy(15, 0)

	t.Run("uses default without override", func(t *testing.T) {
		s, err := p.SplitFor(100_000, nil)
		require.NoError(t, err)
		assert.True(t, s.CommissionPct.Equal(decimal.NewFromInt(15)))
		assert.Equal(t, int64(85_000), s.HostPayableAmount)
	})

	t.Run("hostel override wins", func(t *testing.T) {
		override := decimal.NewFromInt(10)
		s, err := p.SplitFor(100_000, &override)
		require.NoError(t, err)
		assert.True(t, s.CommissionPct.Equal(override))
		assert.Equal(t, int64(10_000), s.CommissionAmount)
		assert.Equal(t, int64(90_000), s.HostPayableAmount)
	})
}
