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

package data_test

import (
	"context"
	"database/sql"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/pgxmockhelper"
	"github.com/shopspring/decimal"
)

var _ = Describe("Store tests", func() {
	var (
		dbPool pgxmock.PgxConnIface
		store  *data.Store
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		store = data.NewStore()
		ctx = context.Background()
	})

	Context("when loading adjusted closes", func() {
		It("builds one series per requested symbol", func() {
			start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
			end := time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC)
			pgxmockhelper.MockAdjustedCloses(dbPool, "testdata/quotes.csv", []string{"AAA", "BBB"}, start, end)

			series, err := store.GetAdjustedCloses(ctx, []string{"AAA", "BBB"}, start, end)
			Expect(err).To(BeNil())
			Expect(len(series)).To(Equal(2))
			Expect(series["AAA"].Len()).To(Equal(3))
			Expect(series["BBB"].Len()).To(Equal(3))

			price, ok := series["AAA"].Price(time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC))
			Expect(ok).To(BeTrue())
			Expect(price.Equal(decimal.RequireFromString("110.5"))).To(BeTrue())
		})

		It("returns an empty series when a symbol has no rows", func() {
			start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
			end := time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC)
			pgxmockhelper.MockAdjustedCloses(dbPool, "testdata/quotes.csv", []string{"ZZZ"}, start, end)

			series, err := store.GetAdjustedCloses(ctx, []string{"ZZZ"}, start, end)
			Expect(err).To(BeNil())
			Expect(series["ZZZ"]).NotTo(BeNil())
			Expect(series["ZZZ"].Len()).To(Equal(0))
		})

		It("rejects an inverted time range", func() {
			start := time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC)
			end := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
			_, err := store.GetAdjustedCloses(ctx, []string{"AAA"}, start, end)
			Expect(err).To(Equal(data.ErrInvalidTimeRange))
		})
	})

	Context("when loading periodic returns", func() {
		It("preserves null metrics as nil", func() {
			rows := pgxmock.NewRows([]string{"period_key", "period_start", "period_end", "trading_days",
				"total_return_pct", "compound_return_pct", "volatility_pct", "max_drawdown_pct"}).
				AddRow("2021-02", time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC), 19, 2.5, 2.4, nil, -1.1).
				AddRow("2021-01", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC), 20, 1.5, nil, 12.3, nil)
			dbPool.ExpectQuery("SELECT period_key, period_start, period_end").WillReturnRows(rows)

			result, err := store.GetPeriodicReturns(ctx, "VTI", data.PeriodMonth, 12)
			Expect(err).To(BeNil())
			Expect(len(result)).To(Equal(2))

			Expect(result[0].PeriodKey).To(Equal("2021-02"))
			Expect(result[0].VolatilityPct).To(BeNil())
			Expect(*result[0].TotalReturnPct).To(Equal(2.5))

			Expect(result[1].CompoundReturnPct).To(BeNil())
			Expect(result[1].MaxDrawdownPct).To(BeNil())
			Expect(*result[1].VolatilityPct).To(Equal(12.3))
		})

		It("rejects unknown period types", func() {
			_, err := store.GetPeriodicReturns(ctx, "VTI", "week", 12)
			Expect(err).To(Equal(data.ErrInvalidPeriodType))
		})

		It("returns ErrNotFound when the symbol has no buckets", func() {
			rows := pgxmock.NewRows([]string{"period_key", "period_start", "period_end", "trading_days",
				"total_return_pct", "compound_return_pct", "volatility_pct", "max_drawdown_pct"})
			dbPool.ExpectQuery("SELECT period_key, period_start, period_end").WillReturnRows(rows)

			_, err := store.GetPeriodicReturns(ctx, "NOPE", data.PeriodYear, 10)
			Expect(err).To(Equal(data.ErrNotFound))
		})
	})

	Context("when loading the stats window", func() {
		It("returns the clamped window with boundary prices", func() {
			bounds := pgxmock.NewRows([]string{"window_start", "window_end", "start_price", "end_price"}).
				AddRow(sql.NullTime{Time: time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC), Valid: true},
					sql.NullTime{Time: time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), Valid: true}, "100", "150")
			dbPool.ExpectQuery("WITH bounds AS").WillReturnRows(bounds)

			periods := pgxmock.NewRows([]string{"period_key", "period_start", "period_end", "trading_days",
				"total_return_pct", "compound_return_pct", "volatility_pct", "max_drawdown_pct"}).
				AddRow("2021", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), 43, 5.0, 4.9, 11.0, -4.0).
				AddRow("2020", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), 253, 18.0, 17.5, 34.0, -33.7)
			dbPool.ExpectQuery("SELECT period_key, period_start, period_end").WillReturnRows(periods)

			window, years, err := store.GetReturnStatsWindow(ctx, "VTI", 10)
			Expect(err).To(BeNil())
			Expect(window.Start).To(Equal(time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC)))
			Expect(window.End).To(Equal(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)))
			Expect(window.StartPrice.Equal(decimal.NewFromInt(100))).To(BeTrue())
			Expect(window.EndPrice.Equal(decimal.NewFromInt(150))).To(BeTrue())
			Expect(len(years)).To(Equal(2))
		})

		It("returns ErrNotFound for a symbol with no quotes", func() {
			bounds := pgxmock.NewRows([]string{"window_start", "window_end", "start_price", "end_price"}).
				AddRow(nil, nil, nil, nil)
			dbPool.ExpectQuery("WITH bounds AS").WillReturnRows(bounds)

			_, _, err := store.GetReturnStatsWindow(ctx, "NOPE", 10)
			Expect(err).To(Equal(data.ErrNotFound))
		})
	})

	Context("when loading performance pairs", func() {
		It("returns aligned buckets in ascending order", func() {
			rows := pgxmock.NewRows([]string{"bucket_date", "symbol_close", "benchmark_close"}).
				AddRow(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), "100", "370").
				AddRow(time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), "101", "372")
			dbPool.ExpectQuery("WITH symbol_bounds AS").WillReturnRows(rows)

			pairs, err := store.GetPerformancePairs(ctx, "VTI", "SPY", data.IntervalDay, 5)
			Expect(err).To(BeNil())
			Expect(len(pairs)).To(Equal(2))
			Expect(pairs[0].BucketDate.Before(pairs[1].BucketDate)).To(BeTrue())
			Expect(pairs[1].SymbolClose.Equal(decimal.NewFromInt(101))).To(BeTrue())
		})

		It("rejects unknown intervals", func() {
			_, err := store.GetPerformancePairs(ctx, "VTI", "SPY", "week", 5)
			Expect(err).To(Equal(data.ErrInvalidInterval))
		})

		It("rejects a benchmark equal to the symbol", func() {
			_, err := store.GetPerformancePairs(ctx, "SPY", "SPY", data.IntervalDay, 5)
			Expect(err).To(Equal(data.ErrBenchmarkConflict))
		})

		It("returns ErrNotFound when no bucket has both legs", func() {
			rows := pgxmock.NewRows([]string{"bucket_date", "symbol_close", "benchmark_close"})
			dbPool.ExpectQuery("WITH symbol_bounds AS").WillReturnRows(rows)

			_, err := store.GetPerformancePairs(ctx, "VTI", "SPY", data.IntervalMonth, 5)
			Expect(err).To(Equal(data.ErrNotFound))
		})
	})

	Context("when loading ranking candidates", func() {
		It("scans boundary prices and coverage", func() {
			rows := pgxmock.NewRows([]string{"symbol", "name", "first_date", "start_date", "end_date",
				"start_price", "end_price", "trading_days"}).
				AddRow("SCHD", "Schwab US Dividend Equity ETF",
					time.Date(2011, 10, 20, 0, 0, 0, 0, time.UTC),
					time.Date(2016, 3, 4, 0, 0, 0, 0, time.UTC),
					time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC),
					"35.50", "71.25", 1259)
			dbPool.ExpectQuery("WITH latest AS").WillReturnRows(rows)

			candidates, err := store.GetRankingCandidates(ctx, 5)
			Expect(err).To(BeNil())
			Expect(len(candidates)).To(Equal(1))
			Expect(candidates[0].Symbol).To(Equal("SCHD"))
			Expect(candidates[0].StartPrice.Equal(decimal.RequireFromString("35.50"))).To(BeTrue())
			Expect(candidates[0].TradingDays).To(Equal(1259))
		})
	})

	Context("when loading reverse splits", func() {
		It("scans each split event", func() {
			rows := pgxmock.NewRows([]string{"symbol", "action_date", "value"}).
				AddRow("UVXY", time.Date(2020, 12, 21, 0, 0, 0, 0, time.UTC), "0.1")
			dbPool.ExpectQuery("SELECT symbol, action_date, value").WillReturnRows(rows)

			events, err := store.GetReverseSplits(ctx)
			Expect(err).To(BeNil())
			Expect(len(events)).To(Equal(1))
			Expect(events[0].Ratio.LessThan(decimal.NewFromInt(1))).To(BeTrue())
		})
	})

	Context("when loading industry members", func() {
		It("returns grouped active securities", func() {
			rows := pgxmock.NewRows([]string{"sector_name", "industry_name", "symbol", "name", "exchange", "asset_type"}).
				AddRow("Technology", "Semiconductors", "NVDA", "NVIDIA Corp", "NASDAQ", "Common Stock").
				AddRow("Unclassified", "Unclassified", "VTI", "Vanguard Total Stock Market ETF", "NYSE ARCA", "ETF")
			dbPool.ExpectQuery("FROM dim_symbol").WillReturnRows(rows)

			members, err := store.GetIndustryMembers(ctx, "", "", "Unclassified")
			Expect(err).To(BeNil())
			Expect(len(members)).To(Equal(2))
			Expect(members[1].Sector).To(Equal("Unclassified"))
		})

		It("returns ErrNotFound for an unknown sector", func() {
			rows := pgxmock.NewRows([]string{"sector_name", "industry_name", "symbol", "name", "exchange", "asset_type"})
			dbPool.ExpectQuery("FROM dim_symbol").WillReturnRows(rows)

			_, err := store.GetIndustryMembers(ctx, "No Such Sector", "", "Unclassified")
			Expect(err).To(Equal(data.ErrNotFound))
		})
	})
})
