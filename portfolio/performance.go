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

package portfolio

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	daysPerYear    = 365.25
	tradingDaysPer = 252
)

// Summary describes one basket's backtest result. Sharpe and Calmar are nil
// when not computable: zero volatility and zero drawdown respectively.
// Returns and volatility are fractional decimals, not percentages.
type Summary struct {
	Key         string
	Label       string
	StartDate   time.Time
	EndDate     time.Time
	TradingDays int

	CumulativeReturn     float64
	AnnualizedReturn     float64
	AnnualizedVolatility float64

	MaxDrawdown      float64
	MaxDrawdownStart time.Time
	MaxDrawdownEnd   time.Time

	SharpeRatio *float64
	CalmarRatio *float64
}

// Summarize reduces a NAV series to its headline performance numbers.
// riskFreeRate is an annualized fractional rate used for the excess-return
// numerator of Sharpe and Calmar.
func Summarize(def *Definition, series *Series, riskFreeRate float64) *Summary {
	startDate := series.NavPoints[0].Date
	endDate := series.NavPoints[len(series.NavPoints)-1].Date
	navStart, _ := series.NavPoints[0].Nav.Float64()
	navEnd, _ := series.NavPoints[len(series.NavPoints)-1].Nav.Float64()

	cumulativeReturn := navEnd - 1.0

	// floor of one day guards single-day windows against division by zero
	holdingDays := endDate.Sub(startDate).Hours() / 24
	if holdingDays < 1 {
		holdingDays = 1
	}

	growthRatio := 0.0
	if navStart != 0 {
		growthRatio = navEnd / navStart
	}
	annualizedReturn := 0.0
	if growthRatio > 0 {
		annualizedReturn = math.Pow(growthRatio, daysPerYear/holdingDays) - 1
	}

	dailyReturns := make([]float64, 0, len(series.DailyReturns))
	for _, ret := range series.DailyReturns {
		if ret != nil {
			val, _ := ret.Float64()
			dailyReturns = append(dailyReturns, val)
		}
	}

	var dailyVol float64
	switch {
	case len(dailyReturns) > 1:
		mean := stat.Mean(dailyReturns, nil)
		dailyVol = math.Sqrt(stat.MomentAbout(2, dailyReturns, mean, nil))
	case len(dailyReturns) == 1:
		dailyVol = math.Abs(dailyReturns[0])
	}
	annualizedVolatility := dailyVol * math.Sqrt(tradingDaysPer)

	maxDrawdown, _ := series.MaxDrawdown.Float64()
	excessReturn := annualizedReturn - riskFreeRate

	summary := &Summary{
		Key:                  def.Key,
		Label:                def.Label,
		StartDate:            startDate,
		EndDate:              endDate,
		TradingDays:          len(series.NavPoints),
		CumulativeReturn:     cumulativeReturn,
		AnnualizedReturn:     annualizedReturn,
		AnnualizedVolatility: annualizedVolatility,
		MaxDrawdown:          maxDrawdown,
		MaxDrawdownStart:     series.MaxDrawdownStart,
		MaxDrawdownEnd:       series.MaxDrawdownEnd,
	}

	if annualizedVolatility > 0 {
		sharpe := excessReturn / annualizedVolatility
		summary.SharpeRatio = &sharpe
	}
	if maxDrawdown < 0 {
		calmar := excessReturn / math.Abs(maxDrawdown)
		summary.CalmarRatio = &calmar
	}

	return summary
}
