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

// Package rankings builds trailing-window ETF return leaderboards. The
// eligibility rules and sorting are deterministic so repeated runs over the
// same warehouse state produce identical output.
package rankings

import (
	"math"
	"sort"
	"time"

	"github.com/quantlake/etfdata/data"

	"github.com/shopspring/decimal"
)

const daysPerYear = 365.25

// DefaultMinCoverageRatio is the fraction of calendar days a symbol must
// have traded within the window to stay eligible
const DefaultMinCoverageRatio = 0.55

// Options tunes one ranking window
type Options struct {
	WindowYears      int
	FudgeDays        int
	MinHistoryYears  int
	MinCoverageRatio float64
}

// Performance is one leaderboard row
type Performance struct {
	Symbol           string
	Name             string
	StartDate        time.Time
	EndDate          time.Time
	HoldingDays      int
	TotalReturn      decimal.Decimal
	AnnualizedReturn decimal.Decimal
}

// OverlapEntry pairs one symbol's rows from two leaderboards
type OverlapEntry struct {
	Short *Performance
	Long  *Performance
}

// Rank filters candidates by eligibility and returns them sorted by total
// return descending, ties broken by symbol ascending. Eligibility requires:
// enough history ending at the shared latest trade date (with fudge-day
// slack), a window start no later than the start cut plus slack, sufficient
// calendar and trading-day coverage, and no reverse split on or after the
// fudge window preceding the start cut.
func Rank(candidates []*data.RankingCandidate, reverseSplits []*data.SplitEvent, opts Options) []*Performance {
	if len(candidates) == 0 {
		return []*Performance{}
	}

	latest := candidates[0].EndDate
	for _, cand := range candidates[1:] {
		if cand.EndDate.After(latest) {
			latest = cand.EndDate
		}
	}

	startCut := latest.AddDate(-opts.WindowYears, 0, 0)
	minRequiredDate := latest.AddDate(-opts.MinHistoryYears, 0, 0).AddDate(0, 0, opts.FudgeDays)
	maxStartDate := startCut.AddDate(0, 0, opts.FudgeDays)
	splitCut := startCut.AddDate(0, 0, -opts.FudgeDays)

	minCoverageDays := opts.WindowYears*365 - opts.FudgeDays
	if minCoverageDays < 1 {
		minCoverageDays = 1
	}
	minTradingDays := int(math.Ceil(float64(opts.WindowYears*365) * opts.MinCoverageRatio))
	if minTradingDays < 1 {
		minTradingDays = 1
	}

	distorted := make(map[string]bool)
	for _, split := range reverseSplits {
		if split.Ratio.LessThan(decimal.NewFromInt(1)) && !split.Date.Before(splitCut) {
			distorted[split.Symbol] = true
		}
	}

	one := decimal.NewFromInt(1)
	performances := make([]*Performance, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.EndDate.Equal(latest) {
			continue
		}
		if cand.FirstDate.After(minRequiredDate) {
			continue
		}
		if cand.StartDate.After(maxStartDate) {
			continue
		}
		if distorted[cand.Symbol] {
			continue
		}
		if !cand.StartPrice.IsPositive() || !cand.EndPrice.IsPositive() {
			continue
		}

		holdingDays := int(cand.EndDate.Sub(cand.StartDate).Hours() / 24)
		if holdingDays < minCoverageDays {
			continue
		}
		if cand.TradingDays < minTradingDays {
			continue
		}

		growthRatio := cand.EndPrice.Div(cand.StartPrice)
		ratio, _ := growthRatio.Float64()
		exponentDays := holdingDays
		if exponentDays < 1 {
			exponentDays = 1
		}
		annualized := decimal.NewFromFloat(math.Pow(ratio, daysPerYear/float64(exponentDays)) - 1)

		performances = append(performances, &Performance{
			Symbol:           cand.Symbol,
			Name:             cand.Name,
			StartDate:        cand.StartDate,
			EndDate:          cand.EndDate,
			HoldingDays:      holdingDays,
			TotalReturn:      growthRatio.Sub(one),
			AnnualizedReturn: annualized,
		})
	}

	sort.SliceStable(performances, func(i, j int) bool {
		if performances[i].TotalReturn.Equal(performances[j].TotalReturn) {
			return performances[i].Symbol < performances[j].Symbol
		}
		return performances[i].TotalReturn.GreaterThan(performances[j].TotalReturn)
	})

	return performances
}

// Top truncates a leaderboard to its first n rows. n <= 0 keeps everything.
func Top(items []*Performance, n int) []*Performance {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[:n]
}

// Overlap intersects two (already truncated) leaderboards by symbol,
// preserving the order of the short-window board. Truncate with Top before
// calling: top-N limits change which symbols can overlap.
func Overlap(short, long []*Performance) []*OverlapEntry {
	lookup := make(map[string]*Performance, len(long))
	for _, perf := range long {
		lookup[perf.Symbol] = perf
	}

	overlap := make([]*OverlapEntry, 0, len(short))
	for _, perf := range short {
		if match, ok := lookup[perf.Symbol]; ok {
			overlap = append(overlap, &OverlapEntry{Short: perf, Long: match})
		}
	}
	return overlap
}
