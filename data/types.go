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

package data

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PeriodMonth = "month"
	PeriodYear  = "year"

	IntervalDay   = "day"
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// PriceSeries is an ordered mapping from trading date to positive adjusted
// close price for a single symbol. Dates with no observation represent
// non-trading days or data gaps, never zero-return days; non-positive prices
// are rejected at insert rather than stored.
type PriceSeries struct {
	Symbol string

	dates  []time.Time
	prices map[time.Time]decimal.Decimal
	sorted bool
}

// NormalizeDate truncates a timestamp to its trade date (midnight UTC)
func NormalizeDate(dt time.Time) time.Time {
	return time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, time.UTC)
}

func NewPriceSeries(symbol string) *PriceSeries {
	return &PriceSeries{
		Symbol: symbol,
		dates:  make([]time.Time, 0, 252),
		prices: make(map[time.Time]decimal.Decimal, 252),
		sorted: true,
	}
}

// Put records the price observed on dt. Non-positive prices are dropped.
func (p *PriceSeries) Put(dt time.Time, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}

	dt = NormalizeDate(dt)
	if _, ok := p.prices[dt]; !ok {
		if n := len(p.dates); n > 0 && dt.Before(p.dates[n-1]) {
			p.sorted = false
		}
		p.dates = append(p.dates, dt)
	}
	p.prices[dt] = price
}

// Price returns the observation for dt, if any
func (p *PriceSeries) Price(dt time.Time) (decimal.Decimal, bool) {
	price, ok := p.prices[NormalizeDate(dt)]
	return price, ok
}

// Dates returns all observation dates in ascending order
func (p *PriceSeries) Dates() []time.Time {
	if !p.sorted {
		sort.Slice(p.dates, func(i, j int) bool { return p.dates[i].Before(p.dates[j]) })
		p.sorted = true
	}
	return p.dates
}

// FirstDateInRange returns the earliest observation date within [start, end]
func (p *PriceSeries) FirstDateInRange(start, end time.Time) (time.Time, bool) {
	start = NormalizeDate(start)
	end = NormalizeDate(end)
	for _, dt := range p.Dates() {
		if dt.Before(start) {
			continue
		}
		if dt.After(end) {
			break
		}
		return dt, true
	}
	return time.Time{}, false
}

func (p *PriceSeries) Len() int {
	return len(p.dates)
}

// PeriodicReturnRow is one pre-computed month or year bucket for a symbol.
// Optional fields are nil when the warehouse could not compute them; nil
// means unknown and is never folded to zero.
type PeriodicReturnRow struct {
	PeriodKey         string     `json:"periodKey"`
	PeriodStart       time.Time  `json:"periodStart"`
	PeriodEnd         time.Time  `json:"periodEnd"`
	TradingDays       int        `json:"tradingDays"`
	TotalReturnPct    *float64   `json:"totalReturnPct"`
	CompoundReturnPct *float64   `json:"compoundReturnPct"`
	VolatilityPct     *float64   `json:"volatilityPct"`
	MaxDrawdownPct    *float64   `json:"maxDrawdownPct"`
}

// StatsWindow bounds a trailing analysis window together with the boundary
// adjusted closes when the warehouse has them
type StatsWindow struct {
	Start      time.Time
	End        time.Time
	StartPrice *decimal.Decimal
	EndPrice   *decimal.Decimal
}

// PerformancePair is one aligned bucket of the symbol-vs-benchmark series
type PerformancePair struct {
	BucketDate     time.Time
	SymbolClose    decimal.Decimal
	BenchmarkClose decimal.Decimal
}

// RankingCandidate carries the per-symbol inputs of a ranking run
type RankingCandidate struct {
	Symbol       string
	Name         string
	FirstDate    time.Time
	StartDate    time.Time
	EndDate      time.Time
	StartPrice   decimal.Decimal
	EndPrice     decimal.Decimal
	TradingDays  int
}

// SplitEvent is a corporate action used by the ranking eligibility filter
type SplitEvent struct {
	Symbol string
	Date   time.Time
	Ratio  decimal.Decimal
}

// IndustryMember is one security row of the industry grouping query
type IndustryMember struct {
	Sector    string
	Industry  string
	Symbol    string
	Name      string
	Exchange  string
	AssetType string
}
