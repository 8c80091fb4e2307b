package usecase

import (
	"sort"
	"time"

	"ArbRelay/internal/domain/models"
)

const strikeEpsilon = 1e-9

// FilterStrikes keeps strikes in [ref*(1-lower), max(spot, ref)*(1+upper)].
func FilterStrikes(strikes []float64, ref, spot, lower, upper float64) []float64 {
	lo := ref * (1 - lower)
	top := ref
	if spot > top {
		top = spot
	}
	hi := top * (1 + upper)

	out := make([]float64, 0, len(strikes))
	for _, k := range strikes {
		if k >= lo-strikeEpsilon && k <= hi+strikeEpsilon {
			out = append(out, k)
		}
	}
	sort.Float64s(out)
	return out
}

// SelectExpirations picks the expirations bracketing target: the latest on or before it and the
// earliest on or after it. With lookbackDays > 0 it instead returns up to three expirations
// starting lookbackDays before target.
func SelectExpirations(expirations []string, target time.Time, lookbackDays int) []string {
	type exp struct {
		raw string
		at  time.Time
	}
	parsed := make([]exp, 0, len(expirations))
	seen := make(map[string]bool, len(expirations))
	for _, e := range expirations {
		if seen[e] {
			continue
		}
		t, err := time.ParseInLocation(models.ExpiryLayout, e, time.UTC)
		if err != nil {
			continue
		}
		seen[e] = true
		parsed = append(parsed, exp{raw: e, at: t})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].at.Before(parsed[j].at) })

	day := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)

	if lookbackDays > 0 {
		start := day.AddDate(0, 0, -lookbackDays)
		out := make([]string, 0, 3)
		for _, e := range parsed {
			if e.at.Before(start) {
				continue
			}
			out = append(out, e.raw)
			if len(out) == 3 {
				break
			}
		}
		return out
	}

	var before, after string
	for _, e := range parsed {
		if !e.at.After(day) {
			before = e.raw
		}
		if !e.at.Before(day) && after == "" {
			after = e.raw
		}
	}
	out := make([]string, 0, 2)
	if before != "" {
		out = append(out, before)
	}
	if after != "" && after != before {
		out = append(out, after)
	}
	return out
}

// ChainContracts expands expirations x strikes x rights into option contracts.
func ChainContracts(symbol string, expirations []string, strikes []float64, rights []models.Right) []models.Contract {
	out := make([]models.Contract, 0, len(expirations)*len(strikes)*len(rights))
	for _, e := range expirations {
		for _, r := range rights {
			for _, k := range strikes {
				out = append(out, models.Option(symbol, e, k, r))
			}
		}
	}
	return out
}
