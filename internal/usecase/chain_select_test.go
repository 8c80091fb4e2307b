package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ArbRelay/internal/domain/models"
)

func ladder(lo, hi, step float64) []float64 {
	var out []float64
	for k := lo; k <= hi; k += step {
		out = append(out, k)
	}
	return out
}

func TestFilterStrikesScenario(t *testing.T) {
	got := FilterStrikes(ladder(70, 120, 5), 100, 95, 0.20, 0.10)
	assert.Equal(t, []float64{80, 85, 90, 95, 100, 105, 110}, got)
}

func TestFilterStrikesBoundsHold(t *testing.T) {
	strikes := ladder(1, 400, 0.5)
	for _, tc := range []struct{ ref, spot float64 }{{100, 95}, {100, 130}, {37.5, 12}, {250, 250}} {
		lo, hi := tc.ref*0.80, tc.ref*1.10
		if tc.spot > tc.ref {
			hi = tc.spot * 1.10
		}
		for _, k := range FilterStrikes(strikes, tc.ref, tc.spot, 0.20, 0.10) {
			assert.GreaterOrEqual(t, k, lo-1e-9)
			assert.LessOrEqual(t, k, hi+1e-9)
		}
	}
}

func TestFilterStrikesUsesSpotWhenHigher(t *testing.T) {
	got := FilterStrikes(ladder(70, 150, 5), 100, 120, 0.20, 0.10)
	assert.Equal(t, 80.0, got[0])
	assert.Equal(t, 130.0, got[len(got)-1])
}

func TestSelectExpirations(t *testing.T) {
	exps := []string{"20250321", "20250117", "20250221", "20250418", "20250516"}
	target := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		target   time.Time
		lookback int
		want     []string
	}{
		{"brackets target", target, 0, []string{"20250221", "20250321"}},
		{"target on an expiration", time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC), 0, []string{"20250221"}},
		{"nothing before", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 0, []string{"20250117"}},
		{"nothing after", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0, []string{"20250516"}},
		{"lookback takes up to three", target, 20, []string{"20250221", "20250321", "20250418"}},
		{"lookback near the end", time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), 10, []string{"20250516"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectExpirations(exps, tt.target, tt.lookback))
		})
	}
}

func TestSelectExpirationsSkipsMalformed(t *testing.T) {
	got := SelectExpirations([]string{"bogus", "20250117", "20250117"}, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 0)
	assert.Equal(t, []string{"20250117"}, got)
}

func TestChainContractsExpandsGrid(t *testing.T) {
	got := ChainContracts("ACME", []string{"20250117", "20250221"}, []float64{90, 95}, []models.Right{models.RightCall, models.RightPut})
	assert.Len(t, got, 8)
	assert.Equal(t, models.SecOption, got[0].SecurityType)
}
