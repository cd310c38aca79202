// Copyright 2022-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package portfolio computes equal-weight buy-and-hold NAV series and their
// performance summaries. All computations are pure: they take materialized
// price series and return materialized results without touching the
// database or global configuration.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantlake/etfdata/data"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// NavPoint is one normalized portfolio value observation
type NavPoint struct {
	Date time.Time
	Nav  decimal.Decimal
}

// Series is the full NAV history of one basket. DailyReturns[0] is always
// nil: the first date has no prior NAV, and nil must stay distinguishable
// from a computed zero return.
type Series struct {
	NavPoints    []NavPoint
	DailyReturns []*decimal.Decimal
	Drawdowns    []decimal.Decimal

	MaxDrawdown      decimal.Decimal
	MaxDrawdownStart time.Time
	MaxDrawdownEnd   time.Time

	// EffectiveStart is the first computed NAV date. It shifts past the
	// requested start when the latest laggard symbol starts trading later.
	EffectiveStart time.Time
	StartShifted   bool
}

// BuildSeries computes the equal-weight NAV series of symbols over
// [start, end]. The basket is buy-and-hold: weights are fixed at 1/n for
// the whole series. Prices are forward-filled across per-symbol gaps, each
// symbol is rebased to its price on the first NAV date, and the first NAV
// of the series is exactly one.
func BuildSeries(symbols []string, prices map[string]*data.PriceSeries, start, end time.Time) (*Series, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: empty symbol list", ErrInvalidWindow)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s not after start %s", ErrInvalidWindow,
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	start = data.NormalizeDate(start)
	end = data.NormalizeDate(end)

	// the latest laggard determines when all legs can be weighted
	effectiveStart := start
	for _, symbol := range symbols {
		series, ok := prices[symbol]
		if !ok || series.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDataGap, symbol)
		}
		firstDate, ok := series.FirstDateInRange(start, end)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDataGap, symbol)
		}
		if firstDate.After(effectiveStart) {
			effectiveStart = firstDate
		}
	}

	shifted := effectiveStart.After(start)
	if shifted {
		log.Warn().Strs("Symbols", symbols).Time("RequestedStart", start).
			Time("EffectiveStart", effectiveStart).
			Msg("not all symbols trade on the requested start date; shifting series start")
	}

	dateSet := make(map[time.Time]bool)
	for _, symbol := range symbols {
		for _, dt := range prices[symbol].Dates() {
			if !dt.Before(effectiveStart) && !dt.After(end) {
				dateSet[dt] = true
			}
		}
	}
	if len(dateSet) == 0 {
		return nil, ErrNoTradingDays
	}

	dates := make([]time.Time, 0, len(dateSet))
	for dt := range dateSet {
		dates = append(dates, dt)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	symbolCount := decimal.NewFromInt(int64(len(symbols)))
	lastPrices := make(map[string]decimal.Decimal, len(symbols))
	basePrices := make(map[string]decimal.Decimal, len(symbols))
	navPoints := make([]NavPoint, 0, len(dates))

	for _, dt := range dates {
		ratioSum := decimal.Zero
		for _, symbol := range symbols {
			if price, ok := prices[symbol].Price(dt); ok {
				lastPrices[symbol] = price
			}
			price, ok := lastPrices[symbol]
			if !ok {
				return nil, fmt.Errorf("%w: %s has no price on or before %s", ErrInternalInconsistency,
					symbol, dt.Format("2006-01-02"))
			}
			base, ok := basePrices[symbol]
			if !ok {
				base = price
				basePrices[symbol] = base
			}
			ratioSum = ratioSum.Add(price.Div(base))
		}
		// summing price ratios and dividing once keeps nav[0] exactly one
		// for any basket size
		navPoints = append(navPoints, NavPoint{Date: dt, Nav: ratioSum.Div(symbolCount)})
	}

	series := &Series{
		NavPoints:      navPoints,
		DailyReturns:   make([]*decimal.Decimal, 0, len(navPoints)),
		Drawdowns:      make([]decimal.Decimal, 0, len(navPoints)),
		EffectiveStart: navPoints[0].Date,
		StartShifted:   shifted,
	}

	one := decimal.NewFromInt(1)
	peakNav := navPoints[0].Nav
	peakDate := navPoints[0].Date
	maxDrawdown := decimal.Zero
	series.MaxDrawdownStart = peakDate
	series.MaxDrawdownEnd = peakDate
	var prevNav *decimal.Decimal

	for idx := range navPoints {
		dt := navPoints[idx].Date
		nav := navPoints[idx].Nav

		if prevNav == nil {
			series.DailyReturns = append(series.DailyReturns, nil)
		} else {
			ret := nav.Div(*prevNav).Sub(one)
			series.DailyReturns = append(series.DailyReturns, &ret)
		}

		if nav.GreaterThan(peakNav) {
			peakNav = nav
			peakDate = dt
		}
		drawdown := nav.Div(peakNav).Sub(one)
		series.Drawdowns = append(series.Drawdowns, drawdown)
		if drawdown.LessThan(maxDrawdown) {
			maxDrawdown = drawdown
			series.MaxDrawdownStart = peakDate
			series.MaxDrawdownEnd = dt
		}

		prev := nav
		prevNav = &prev
	}
	series.MaxDrawdown = maxDrawdown

	return series, nil
}
