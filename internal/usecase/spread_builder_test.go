package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker/paper"
)

// syntheticSnapshot prices a full strike ladder with the paper model so spreads are well-formed.
func syntheticSnapshot(ref, spot float64, strikes []float64, expiries []string, asOf time.Time) *models.OptionChainSnapshot {
	snap := &models.OptionChainSnapshot{Ticker: "ACME", SpotPrice: spot, ReferencePrice: ref, Expirations: expiries}
	for _, e := range expiries {
		exp, _ := time.Parse(models.ExpiryLayout, e)
		days := exp.Sub(asOf).Hours() / 24
		for _, r := range []models.Right{models.RightCall, models.RightPut} {
			for _, k := range strikes {
				theo := paper.Theo(spot, k, days, 0.3, r)
				snap.Contracts = append(snap.Contracts, models.Quote{
					Contract: models.Option("ACME", e, k, r),
					Bid:      theo - 0.05,
					Ask:      theo + 0.05,
				})
			}
		}
	}
	return snap
}

func TestSpreadCandidatesRespectBounds(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	ref := 100.0
	snap := syntheticSnapshot(ref, 95, paper.StrikeLadder(70, 130, 2.5), []string{"20250221", "20250321"}, asOf)
	cfg := DefaultSpreadConfig()

	cands := BuildSpreads(snap, cfg, asOf)
	require.NotEmpty(t, cands)

	perGroup := map[string]int{}
	for _, c := range cands {
		assert.Less(t, c.LongLeg.Contract.Strike, ref, "long leg below reference")
		assert.GreaterOrEqual(t, c.ShortLeg.Contract.Strike, ref*0.90-1e-9)
		assert.LessOrEqual(t, c.ShortLeg.Contract.Strike, ref*1.20+1e-9)
		assert.Greater(t, c.ShortLeg.Contract.Strike, c.LongLeg.Contract.Strike)
		assert.Equal(t, c.LongLeg.Contract.Right, c.ShortLeg.Contract.Right)
		assert.Equal(t, c.LongLeg.Contract.Expiry, c.ShortLeg.Contract.Expiry)
		assert.LessOrEqual(t, c.ShortLeg.Contract.Strike-c.LongLeg.Contract.Strike, 4*2.5+1e-9,
			"short leg within the next four strikes")
		assert.Greater(t, c.MaxProfit, 0.0)
		assert.Greater(t, c.MaxLoss, 0.0)
		perGroup[c.Expiration+string(c.Type)]++
	}
	for g, n := range perGroup {
		assert.LessOrEqual(t, n, cfg.TopK, g)
	}
	assert.Len(t, perGroup, 4, "two expirations x two spread types")
}

func TestSpreadRankingIsByAnnualizedReturn(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := syntheticSnapshot(100, 95, paper.StrikeLadder(70, 130, 2.5), []string{"20250221"}, asOf)

	cands := BuildSpreads(snap, DefaultSpreadConfig(), asOf)
	byType := map[models.SpreadType][]models.SpreadCandidate{}
	for _, c := range cands {
		byType[c.Type] = append(byType[c.Type], c)
	}
	for typ, group := range byType {
		for i, c := range group {
			assert.Equal(t, i+1, c.Rank, typ)
			if i > 0 {
				assert.GreaterOrEqual(t, group[i-1].AnnualizedReturn, c.AnnualizedReturn, typ)
			}
		}
	}
}

func TestDebitSpreadMath(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := &models.OptionChainSnapshot{
		ReferencePrice: 100,
		Contracts: []models.Quote{
			{Contract: models.Option("ACME", "20250201", 95, models.RightCall), Bid: 5.8, Ask: 6.0},
			{Contract: models.Option("ACME", "20250201", 100, models.RightCall), Bid: 3.0, Ask: 3.2},
		},
	}
	cfg := DefaultSpreadConfig()
	cfg.DealProbability = 1

	cands := BuildSpreads(snap, cfg, asOf)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, models.SpreadCallDebit, c.Type)
	assert.InDelta(t, 3.0, c.NetPremium, 1e-9)
	assert.InDelta(t, 2.0, c.MaxProfit, 1e-9)
	assert.Equal(t, 30, c.DaysToExpiry)
	assert.InDelta(t, 2.0/3.0*365/30, c.AnnualizedReturn, 1e-4)
	// the deal closes at 100: the spread pays its full width
	assert.InDelta(t, 2.0, c.ExpectedValue, 1e-9)
}

func TestCreditSpreadMath(t *testing.T) {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := &models.OptionChainSnapshot{
		ReferencePrice: 100,
		Contracts: []models.Quote{
			{Contract: models.Option("ACME", "20250201", 95, models.RightPut), Bid: 1.0, Ask: 1.1},
			{Contract: models.Option("ACME", "20250201", 100, models.RightPut), Bid: 2.6, Ask: 2.8},
		},
	}
	cands := BuildSpreads(snap, DefaultSpreadConfig(), asOf)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, models.SpreadPutCredit, c.Type)
	assert.InDelta(t, 1.5, c.NetPremium, 1e-9)
	assert.InDelta(t, 1.5, c.MaxProfit, 1e-9)
	assert.InDelta(t, 3.5, c.MaxLoss, 1e-9)
}

func TestExpiredLegsFloorAtOneDay(t *testing.T) {
	asOf := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	snap := &models.OptionChainSnapshot{
		ReferencePrice: 100,
		Contracts: []models.Quote{
			{Contract: models.Option("ACME", "20250201", 95, models.RightCall), Bid: 4.8, Ask: 5.0},
			{Contract: models.Option("ACME", "20250201", 100, models.RightCall), Bid: 0.5, Ask: 0.6},
		},
	}
	cands := BuildSpreads(snap, DefaultSpreadConfig(), asOf)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].DaysToExpiry)
}

func TestNoLongLegAtOrAboveReference(t *testing.T) {
	snap := &models.OptionChainSnapshot{
		ReferencePrice: 100,
		Contracts: []models.Quote{
			{Contract: models.Option("ACME", "20250201", 100, models.RightCall), Bid: 3, Ask: 3.2},
			{Contract: models.Option("ACME", "20250201", 105, models.RightCall), Bid: 1, Ask: 1.2},
		},
	}
	assert.Empty(t, BuildSpreads(snap, DefaultSpreadConfig(), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, BuildSpreads(nil, DefaultSpreadConfig(), time.Now()))
}
