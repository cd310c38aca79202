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

// Package returns aggregates pre-computed periodic return buckets into
// window-level statistics. Absent inputs stay absent in the output; a nil
// field means "not computable", never zero.
package returns

import (
	"math"
	"sort"
	"time"

	"github.com/quantlake/etfdata/data"
)

const daysPerYear = 365.25

// Stats summarizes the year buckets of one trailing analysis window
type Stats struct {
	Periods int       `json:"periods"`
	Start   time.Time `json:"startDate"`
	End     time.Time `json:"endDate"`

	TotalReturn         *float64 `json:"totalReturnPct"`
	AverageAnnualReturn *float64 `json:"averageAnnualReturnPct"`
	MaxDrawdown         *float64 `json:"maxDrawdownPct"`
	AverageVolatility   *float64 `json:"averageVolatilityPct"`

	BestPeriodKey     *string  `json:"bestPeriodKey"`
	BestPeriodReturn  *float64 `json:"bestPeriodReturnPct"`
	WorstPeriodKey    *string  `json:"worstPeriodKey"`
	WorstPeriodReturn *float64 `json:"worstPeriodReturnPct"`
}

// Aggregate reduces periodic return rows over window to summary statistics.
// Rows may arrive in any order; they are re-sorted ascending by period
// start. When both boundary prices of the window are known and positive the
// total return is the exact price ratio; only otherwise does it fall back to
// compounding the per-period returns.
func Aggregate(rows []*data.PeriodicReturnRow, window *data.StatsWindow) *Stats {
	ordered := make([]*data.PeriodicReturnRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PeriodStart.Before(ordered[j].PeriodStart)
	})

	stats := &Stats{Periods: len(ordered)}

	if window != nil {
		stats.Start = window.Start
		stats.End = window.End
	} else if len(ordered) > 0 {
		stats.Start = ordered[0].PeriodStart
		stats.End = ordered[len(ordered)-1].PeriodEnd
	}

	product := 1.0
	validReturns := 0
	for _, row := range ordered {
		periodReturn := row.CompoundReturnPct
		if periodReturn == nil {
			periodReturn = row.TotalReturnPct
		}
		if periodReturn == nil {
			continue
		}
		product *= 1.0 + *periodReturn
		validReturns++
	}

	if window != nil && window.StartPrice != nil && window.EndPrice != nil &&
		window.StartPrice.IsPositive() && window.EndPrice.IsPositive() {
		ratio, _ := window.EndPrice.Div(*window.StartPrice).Float64()
		totalReturn := ratio - 1.0
		stats.TotalReturn = &totalReturn
	} else if validReturns > 0 {
		totalReturn := product - 1.0
		stats.TotalReturn = &totalReturn
	}

	if stats.TotalReturn != nil && stats.End.After(stats.Start) {
		spanDays := stats.End.Sub(stats.Start).Hours() / 24
		if spanDays > 0 {
			avgAnnual := math.Pow(1.0+*stats.TotalReturn, daysPerYear/spanDays) - 1.0
			stats.AverageAnnualReturn = &avgAnnual
		}
	}
	if stats.AverageAnnualReturn == nil && validReturns > 0 && product > 0 {
		avgAnnual := math.Pow(product, 1.0/float64(validReturns)) - 1.0
		stats.AverageAnnualReturn = &avgAnnual
	}

	for _, row := range ordered {
		if row.MaxDrawdownPct == nil {
			continue
		}
		if stats.MaxDrawdown == nil || *row.MaxDrawdownPct < *stats.MaxDrawdown {
			drawdown := *row.MaxDrawdownPct
			stats.MaxDrawdown = &drawdown
		}
	}

	volSum := 0.0
	volCount := 0
	for _, row := range ordered {
		if row.VolatilityPct != nil {
			volSum += *row.VolatilityPct
			volCount++
		}
	}
	if volCount > 0 {
		avgVol := volSum / float64(volCount)
		stats.AverageVolatility = &avgVol
	}

	// ties keep the earliest period
	for _, row := range ordered {
		if row.TotalReturnPct == nil {
			continue
		}
		if stats.BestPeriodReturn == nil || *row.TotalReturnPct > *stats.BestPeriodReturn {
			key := row.PeriodKey
			val := *row.TotalReturnPct
			stats.BestPeriodKey = &key
			stats.BestPeriodReturn = &val
		}
		if stats.WorstPeriodReturn == nil || *row.TotalReturnPct < *stats.WorstPeriodReturn {
			key := row.PeriodKey
			val := *row.TotalReturnPct
			stats.WorstPeriodKey = &key
			stats.WorstPeriodReturn = &val
		}
	}

	return stats
}
