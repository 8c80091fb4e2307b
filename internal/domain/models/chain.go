package models

import (
	"fmt"
	"strings"
	"time"
)

// TargetDateLayout is the layout of ChainRequest.TargetCloseDate.
const TargetDateLayout = "2006-01-02"

// ChainRequest describes one option-chain scan. Zero-valued tuning fields fall back to the agent's config.
type ChainRequest struct {
	Ticker          string  `json:"ticker" validate:"required,max=16"`
	ReferencePrice  float64 `json:"reference_price" validate:"gt=0"`
	TargetCloseDate string  `json:"target_close_date" validate:"required,datetime=2006-01-02"`
	LookbackDays    int     `json:"lookback_days" validate:"gte=0,lte=120"`
	StrikeLowerPct  float64 `json:"strike_lower_pct" validate:"gte=0,lt=1"`
	StrikeUpperPct  float64 `json:"strike_upper_pct" validate:"gte=0,lte=2"`
	Rights          []Right `json:"rights,omitempty" validate:"omitempty,dive,oneof=C P"`
	DealProbability float64 `json:"deal_probability" validate:"gte=0,lte=1"`
	TopK            int     `json:"top_k" validate:"gte=0,lte=50"`
	// MaxContracts is the caller's estimate of the chain size; the relay scales its deadline by it.
	MaxContracts int `json:"max_contracts,omitempty" validate:"gte=0,lte=5000"`
}

func (r ChainRequest) Target() (time.Time, error) {
	return time.ParseInLocation(TargetDateLayout, r.TargetCloseDate, time.UTC)
}

// Key identifies identical scans so concurrent duplicates can share one fetch.
func (r ChainRequest) Key() string {
	rights := make([]string, len(r.Rights))
	for i, right := range r.Rights {
		rights[i] = string(right)
	}
	return fmt.Sprintf("%s|%g|%s|%d|%g|%g|%s|%g|%d", strings.ToUpper(r.Ticker), r.ReferencePrice,
		r.TargetCloseDate, r.LookbackDays, r.StrikeLowerPct, r.StrikeUpperPct,
		strings.Join(rights, ""), r.DealProbability, r.TopK)
}

// OptionChainSnapshot is the result of one chain fetch. Partial is set when any batch timed out,
// any contract failed, or the broker session dropped before the fetch finished.
type OptionChainSnapshot struct {
	Ticker         string    `json:"ticker"`
	SpotPrice      float64   `json:"spot_price"`
	ReferencePrice float64   `json:"reference_price"`
	Expirations    []string  `json:"expirations"`
	Contracts      []Quote   `json:"contracts"`
	Requested      int       `json:"requested"`
	Excluded       int       `json:"excluded"`
	Failed         int       `json:"failed"`
	Partial        bool      `json:"partial"`
	FetchedAt      time.Time `json:"fetched_at"`
}

type SpreadType string

const (
	SpreadCallDebit SpreadType = "call_debit"
	SpreadPutCredit SpreadType = "put_credit"
)

// SpreadCandidate is a priced two-leg vertical. NetPremium is the debit paid for call spreads
// and the credit received for put spreads.
type SpreadCandidate struct {
	Type             SpreadType `json:"type"`
	Expiration       string     `json:"expiration"`
	DaysToExpiry     int        `json:"days_to_expiry"`
	LongLeg          Quote      `json:"long_leg"`
	ShortLeg         Quote      `json:"short_leg"`
	Width            float64    `json:"width"`
	NetPremium       float64    `json:"net_premium"`
	MaxProfit        float64    `json:"max_profit"`
	MaxLoss          float64    `json:"max_loss"`
	AnnualizedReturn float64    `json:"annualized_return"`
	ExpectedValue    float64    `json:"expected_value"`
	Rank             int        `json:"rank_within_expiration"`
}

// ChainResult is what the fetch_chain operation returns.
type ChainResult struct {
	Snapshot   *OptionChainSnapshot `json:"snapshot"`
	Candidates []SpreadCandidate    `json:"candidates"`
}
