package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ArbRelay/internal/domain/models"
)

type SpreadConfig struct {
	ShortBandLowerPct float64
	ShortBandUpperPct float64
	MaxShortStrikes   int
	TopK              int
	DealProbability   float64
}

func DefaultSpreadConfig() SpreadConfig {
	return SpreadConfig{
		ShortBandLowerPct: 0.10,
		ShortBandUpperPct: 0.20,
		MaxShortStrikes:   4,
		TopK:              5,
		DealProbability:   0.9,
	}
}

// BuildSpreads pairs legs within each (expiration, right) group. The long leg must sit strictly
// below ref, the short leg above the long leg and inside [ref*(1-lower), ref*(1+upper)].
// Calls are priced as debit spreads and puts as credit spreads; the best TopK of each
// group by annualized return are kept and ranked from 1.
func BuildSpreads(snap *models.OptionChainSnapshot, cfg SpreadConfig, asOf time.Time) []models.SpreadCandidate {
	if snap == nil || len(snap.Contracts) == 0 {
		return []models.SpreadCandidate{}
	}
	ref := snap.ReferencePrice
	shortLo := ref * (1 - cfg.ShortBandLowerPct)
	shortHi := ref * (1 + cfg.ShortBandUpperPct)

	type groupKey struct {
		expiry string
		right  models.Right
	}
	groups := make(map[groupKey][]models.Quote)
	var order []groupKey
	for _, q := range snap.Contracts {
		k := groupKey{q.Contract.Expiry, q.Contract.Right}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], q)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].expiry != order[j].expiry {
			return order[i].expiry < order[j].expiry
		}
		return order[i].right < order[j].right
	})

	out := make([]models.SpreadCandidate, 0)
	for _, k := range order {
		legs := groups[k]
		sort.Slice(legs, func(i, j int) bool { return legs[i].Contract.Strike < legs[j].Contract.Strike })

		exp, err := time.ParseInLocation(models.ExpiryLayout, k.expiry, time.UTC)
		if err != nil {
			continue
		}
		days := int(math.Ceil(exp.Sub(asOf).Hours() / 24))
		if days < 1 {
			days = 1
		}

		var cands []models.SpreadCandidate
		for i, long := range legs {
			if long.Contract.Strike >= ref {
				break
			}
			for j := i + 1; j < len(legs) && j <= i+cfg.MaxShortStrikes; j++ {
				short := legs[j]
				if short.Contract.Strike < shortLo-strikeEpsilon || short.Contract.Strike > shortHi+strikeEpsilon {
					continue
				}
				if c, ok := priceVertical(long, short, ref, days, cfg.DealProbability); ok {
					c.Expiration = k.expiry
					cands = append(cands, c)
				}
			}
		}

		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].AnnualizedReturn != cands[j].AnnualizedReturn {
				return cands[i].AnnualizedReturn > cands[j].AnnualizedReturn
			}
			return cands[i].LongLeg.Contract.Strike < cands[j].LongLeg.Contract.Strike
		})
		if cfg.TopK > 0 && len(cands) > cfg.TopK {
			cands = cands[:cfg.TopK]
		}
		for i := range cands {
			cands[i].Rank = i + 1
		}
		out = append(out, cands...)
	}
	return out
}

// priceVertical returns false when the quotes do not form a tradable spread.
func priceVertical(long, short models.Quote, ref float64, days int, p float64) (models.SpreadCandidate, bool) {
	width := short.Contract.Strike - long.Contract.Strike
	if width <= 0 {
		return models.SpreadCandidate{}, false
	}
	c := models.SpreadCandidate{
		LongLeg:      long,
		ShortLeg:     short,
		Width:        width,
		DaysToExpiry: days,
	}

	var profitAtDeal float64
	switch long.Contract.Right {
	case models.RightCall:
		debit := long.BuyPrice() - short.SellPrice()
		if debit <= 0 || debit >= width {
			return c, false
		}
		c.Type = models.SpreadCallDebit
		c.NetPremium = debit
		c.MaxProfit = width - debit
		c.MaxLoss = debit
		profitAtDeal = clamp(ref-long.Contract.Strike, 0, width) - debit
	case models.RightPut:
		credit := short.SellPrice() - long.BuyPrice()
		if credit <= 0 || credit >= width {
			return c, false
		}
		c.Type = models.SpreadPutCredit
		c.NetPremium = credit
		c.MaxProfit = credit
		c.MaxLoss = width - credit
		profitAtDeal = credit - clamp(short.Contract.Strike-ref, 0, width)
	default:
		return c, false
	}

	c.AnnualizedReturn = round(c.MaxProfit/c.MaxLoss*365/float64(days), 4)
	c.ExpectedValue = round(p*profitAtDeal-(1-p)*c.MaxLoss, 2)
	c.NetPremium = round(c.NetPremium, 2)
	c.MaxProfit = round(c.MaxProfit, 2)
	c.MaxLoss = round(c.MaxLoss, 2)
	return c, true
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

func round(x float64, places int32) float64 {
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}
