package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExpiryLayout is the broker's expiration date format.
const ExpiryLayout = "20060102"

type SecurityType string

const (
	SecStock  SecurityType = "STK"
	SecOption SecurityType = "OPT"
	SecFuture SecurityType = "FUT"
	SecIndex  SecurityType = "IND"
)

type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Contract identifies an instrument. ResolvedID is the broker's id once the contract has been confirmed.
type Contract struct {
	Symbol       string       `json:"symbol" validate:"required,max=16"`
	SecurityType SecurityType `json:"security_type" default:"STK" validate:"required,oneof=STK OPT FUT IND"`
	Expiry       string       `json:"expiry,omitempty" validate:"omitempty,len=8,numeric"`
	Strike       float64      `json:"strike,omitempty" validate:"gte=0"`
	Right        Right        `json:"right,omitempty" validate:"omitempty,oneof=C P"`
	Multiplier   string       `json:"multiplier,omitempty"`
	Exchange     string       `json:"exchange,omitempty" default:"SMART"`
	Currency     string       `json:"currency,omitempty" default:"USD"`
	ResolvedID   int64        `json:"resolved_id,omitempty"`
}

func Stock(symbol string) Contract {
	return Contract{Symbol: strings.ToUpper(symbol), SecurityType: SecStock, Exchange: "SMART", Currency: "USD"}
}

func Option(symbol, expiry string, strike float64, right Right) Contract {
	return Contract{
		Symbol:       strings.ToUpper(symbol),
		SecurityType: SecOption,
		Expiry:       expiry,
		Strike:       strike,
		Right:        right,
		Multiplier:   "100",
		Exchange:     "SMART",
		Currency:     "USD",
	}
}

// Key identifies the contract independent of its resolved id.
func (c Contract) Key() string {
	if c.SecurityType != SecOption {
		return c.Symbol + "|" + string(c.SecurityType)
	}
	return fmt.Sprintf("%s|OPT|%s|%s|%s", c.Symbol, c.Expiry, strconv.FormatFloat(c.Strike, 'f', -1, 64), c.Right)
}

func (c Contract) ExpiryTime() (time.Time, error) {
	return time.ParseInLocation(ExpiryLayout, c.Expiry, time.UTC)
}

// CheckOption reports the first option-specific field that is missing, or "" if none.
func (c Contract) CheckOption() (field, message string) {
	if c.SecurityType != SecOption {
		return "", ""
	}
	switch {
	case c.Expiry == "":
		return "contract.expiry", "contract.expiry is required for options"
	case c.Strike <= 0:
		return "contract.strike", "contract.strike must be greater than 0 for options"
	case c.Right == "":
		return "contract.right", "contract.right is required for options"
	}
	if _, err := c.ExpiryTime(); err != nil {
		return "contract.expiry", "contract.expiry must be a YYYYMMDD date"
	}
	return "", ""
}
