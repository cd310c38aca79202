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

package portfolio_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/portfolio"
	"github.com/shopspring/decimal"
)

var _ = Describe("Performance summary", func() {
	var def *portfolio.Definition

	BeforeEach(func() {
		def = &portfolio.Definition{Key: "test", Label: "Test Basket"}
	})

	buildRoundTrip := func() *portfolio.Series {
		// nav path [1.0, 1.1, 1.0] over three consecutive days
		prices := map[string]*data.PriceSeries{
			"AAA": seriesFrom("AAA", map[int]string{3: "100", 4: "110", 5: "100"}),
		}
		series, err := portfolio.BuildSeries([]string{"AAA"}, prices, day(3), day(5))
		Expect(err).To(BeNil())
		return series
	}

	Context("for a round-trip nav path", func() {
		It("reports near-zero cumulative return and ratios", func() {
			summary := portfolio.Summarize(def, buildRoundTrip(), 0.0)

			Expect(summary.CumulativeReturn).To(BeNumerically("~", 0.0, 1e-9))
			Expect(summary.MaxDrawdown).To(BeNumerically("~", -0.0909, 0.0001))
			Expect(summary.MaxDrawdownStart).To(Equal(day(4)))
			Expect(summary.MaxDrawdownEnd).To(Equal(day(5)))

			Expect(summary.SharpeRatio).NotTo(BeNil())
			Expect(*summary.SharpeRatio).To(BeNumerically("~", 0.0, 0.01))
			Expect(summary.CalmarRatio).NotTo(BeNil())
			Expect(*summary.CalmarRatio).To(BeNumerically("~", 0.0, 0.01))
		})

		It("counts trading days and holding period", func() {
			summary := portfolio.Summarize(def, buildRoundTrip(), 0.0)
			Expect(summary.TradingDays).To(Equal(3))
			Expect(summary.StartDate).To(Equal(day(3)))
			Expect(summary.EndDate).To(Equal(day(5)))
		})
	})

	Context("for a rising nav path", func() {
		It("annualizes the growth ratio over calendar days", func() {
			prices := map[string]*data.PriceSeries{
				"AAA": seriesFrom("AAA", map[int]string{3: "100", 4: "105", 5: "110"}),
			}
			series, err := portfolio.BuildSeries([]string{"AAA"}, prices, day(3), day(5))
			Expect(err).To(BeNil())

			summary := portfolio.Summarize(def, series, 0.0)
			Expect(summary.CumulativeReturn).To(BeNumerically("~", 0.10, 1e-9))
			// (1.10)^(365.25/2) - 1
			Expect(summary.AnnualizedReturn).To(BeNumerically(">", 1e6))
			Expect(summary.CalmarRatio).To(BeNil(), "no drawdown occurred")
			Expect(summary.SharpeRatio).NotTo(BeNil())
			Expect(*summary.SharpeRatio).To(BeNumerically(">", 0))
		})
	})

	Context("degenerate inputs", func() {
		It("leaves sharpe absent when volatility is zero", func() {
			flat := &portfolio.Series{
				NavPoints: []portfolio.NavPoint{
					{Date: day(3), Nav: decimal.NewFromInt(1)},
					{Date: day(4), Nav: decimal.NewFromInt(1)},
				},
				DailyReturns: []*decimal.Decimal{nil, decimalPtr("0")},
				Drawdowns:    []decimal.Decimal{decimal.Zero, decimal.Zero},
				MaxDrawdown:  decimal.Zero,
			}
			summary := portfolio.Summarize(def, flat, 0.0)
			Expect(summary.AnnualizedVolatility).To(Equal(0.0))
			Expect(summary.SharpeRatio).To(BeNil())
			Expect(summary.CalmarRatio).To(BeNil())
		})

		It("uses the absolute single sample when only one return exists", func() {
			two := &portfolio.Series{
				NavPoints: []portfolio.NavPoint{
					{Date: day(3), Nav: decimal.NewFromInt(1)},
					{Date: day(4), Nav: decimal.RequireFromString("0.98")},
				},
				DailyReturns: []*decimal.Decimal{nil, decimalPtr("-0.02")},
				Drawdowns:    []decimal.Decimal{decimal.Zero, decimal.RequireFromString("-0.02")},
				MaxDrawdown:  decimal.RequireFromString("-0.02"),
			}
			summary := portfolio.Summarize(def, two, 0.0)
			Expect(summary.AnnualizedVolatility).To(BeNumerically("~", 0.02*15.8745, 0.001))
			Expect(summary.CalmarRatio).NotTo(BeNil())
		})
	})
})

func decimalPtr(val string) *decimal.Decimal {
	d := decimal.RequireFromString(val)
	return &d
}

var _ = Describe("Portfolio definitions", func() {
	It("exposes the two built-in baskets", func() {
		defs := portfolio.DefaultDefinitions()
		Expect(len(defs)).To(Equal(2))
		Expect(defs[0].Key).To(Equal("top10_10y"))
		Expect(len(defs[0].Symbols)).To(Equal(10))
		Expect(defs[1].Key).To(Equal("top10_5y"))
	})

	It("selects definitions by key preserving order", func() {
		defs := portfolio.DefaultDefinitions()
		selected, err := portfolio.SelectDefinitions(defs, []string{"top10_5y"})
		Expect(err).To(BeNil())
		Expect(len(selected)).To(Equal(1))
		Expect(selected[0].Key).To(Equal("top10_5y"))
	})

	It("fails on unknown keys", func() {
		_, err := portfolio.SelectDefinitions(portfolio.DefaultDefinitions(), []string{"nope"})
		Expect(err).To(MatchError(portfolio.ErrUnknownPortfolio))
	})

	It("unions symbols without duplicates", func() {
		symbols := portfolio.AllSymbols(portfolio.DefaultDefinitions())
		seen := make(map[string]int)
		for _, symbol := range symbols {
			seen[symbol]++
		}
		// GBTC, TECL, SPXL and USD appear in both baskets
		Expect(len(symbols)).To(Equal(16))
		for symbol, count := range seen {
			Expect(count).To(Equal(1), symbol)
		}
	})
})
