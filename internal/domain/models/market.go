package models

import "time"

// Quote is a market-data snapshot for one contract. Zero means the side was not quoted.
type Quote struct {
	Contract Contract  `json:"contract"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Last     float64   `json:"last"`
	Close    float64   `json:"close"`
	AsOf     time.Time `json:"as_of"`
}

// Mid falls back from the bid/ask midpoint to last, then close.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Last > 0:
		return q.Last
	default:
		return q.Close
	}
}

// BuyPrice is what crossing the spread costs.
func (q Quote) BuyPrice() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Mid()
}

// SellPrice is what hitting the bid earns.
func (q Quote) SellPrice() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Mid()
}

type UnderlyingPrice struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// QuoteRequest asks for one contract's snapshot.
type QuoteRequest struct {
	Contract Contract `json:"contract"`
}

type UnderlyingPriceRequest struct {
	Symbol string `json:"symbol" validate:"required,max=16"`
}
