package models

import "time"

type PositionSnapshot struct {
	AccountID string    `json:"account_id"`
	Contract  Contract  `json:"contract"`
	Quantity  float64   `json:"quantity"`
	AvgCost   float64   `json:"avg_cost"`
	AsOf      time.Time `json:"as_of"`
}

// PositionsResult is one complete positions cycle. Cycle increases with every broker fetch.
type PositionsResult struct {
	Positions []PositionSnapshot `json:"positions"`
	Cycle     int64              `json:"cycle"`
	AsOf      time.Time          `json:"as_of"`
}
