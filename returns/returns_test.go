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

package returns_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/returns"
	"github.com/shopspring/decimal"
)

func fl(v float64) *float64 {
	return &v
}

func yearRow(key string, year int, total, compound, vol, drawdown *float64) *data.PeriodicReturnRow {
	return &data.PeriodicReturnRow{
		PeriodKey:         key,
		PeriodStart:       time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:         time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		TradingDays:       252,
		TotalReturnPct:    total,
		CompoundReturnPct: compound,
		VolatilityPct:     vol,
		MaxDrawdownPct:    drawdown,
	}
}

func window(startYear, endYear int, startPrice, endPrice string) *data.StatsWindow {
	w := &data.StatsWindow{
		Start: time.Date(startYear, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(endYear, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	if startPrice != "" {
		p := decimal.RequireFromString(startPrice)
		w.StartPrice = &p
	}
	if endPrice != "" {
		p := decimal.RequireFromString(endPrice)
		w.EndPrice = &p
	}
	return w
}

var _ = Describe("Periodic return aggregation", func() {
	Context("total return", func() {
		It("prefers boundary prices over compounding", func() {
			// the rows deliberately compound to something other than 50%
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.80), fl(0.80), nil, nil),
				yearRow("2021", 2021, fl(-0.30), fl(-0.30), nil, nil),
			}
			stats := returns.Aggregate(rows, window(2020, 2021, "100", "150"))
			Expect(stats.TotalReturn).NotTo(BeNil())
			Expect(*stats.TotalReturn).To(Equal(0.5))
		})

		It("falls back to compounding per-period returns", func() {
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.10), fl(0.10), nil, nil),
				yearRow("2021", 2021, fl(0.20), fl(0.20), nil, nil),
			}
			stats := returns.Aggregate(rows, window(2020, 2021, "", ""))
			Expect(stats.TotalReturn).NotTo(BeNil())
			Expect(*stats.TotalReturn).To(BeNumerically("~", 0.32, 1e-9))
		})

		It("uses total_return_pct when compound_return_pct is absent", func() {
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.10), nil, nil, nil),
			}
			stats := returns.Aggregate(rows, window(2020, 2020, "", ""))
			Expect(stats.TotalReturn).NotTo(BeNil())
			Expect(*stats.TotalReturn).To(BeNumerically("~", 0.10, 1e-9))
		})

		It("is absent when no row carries a usable return", func() {
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, nil, nil, fl(0.15), nil),
			}
			stats := returns.Aggregate(rows, window(2020, 2020, "", ""))
			Expect(stats.TotalReturn).To(BeNil())
			Expect(stats.AverageAnnualReturn).To(BeNil())
		})

		It("skips the boundary path when a boundary price is zero", func() {
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.10), fl(0.10), nil, nil),
			}
			stats := returns.Aggregate(rows, window(2020, 2020, "0", "150"))
			Expect(stats.TotalReturn).NotTo(BeNil())
			Expect(*stats.TotalReturn).To(BeNumerically("~", 0.10, 1e-9))
		})
	})

	Context("average annual return", func() {
		It("de-annualizes the total return over the window span", func() {
			stats := returns.Aggregate([]*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.10), fl(0.10), nil, nil),
				yearRow("2021", 2021, fl(0.10), fl(0.10), nil, nil),
			}, window(2020, 2021, "100", "121"))

			spanDays := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC).
				Sub(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() / 24
			expected := math.Pow(1.21, 365.25/spanDays) - 1
			Expect(stats.AverageAnnualReturn).NotTo(BeNil())
			Expect(*stats.AverageAnnualReturn).To(BeNumerically("~", expected, 1e-9))
		})

		It("uses the geometric mean when the window span is unusable", func() {
			rows := []*data.PeriodicReturnRow{
				yearRow("2020", 2020, fl(0.10), fl(0.10), nil, nil),
				yearRow("2021", 2021, fl(0.20), fl(0.20), nil, nil),
			}
			stats := returns.Aggregate(rows, nil)
			// window derived from rows is usable, so force the fallback with
			// an inverted window
			stats2 := returns.Aggregate(rows, &data.StatsWindow{
				Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			})
			Expect(stats.AverageAnnualReturn).NotTo(BeNil())
			Expect(stats2.AverageAnnualReturn).NotTo(BeNil())
			Expect(*stats2.AverageAnnualReturn).To(BeNumerically("~", math.Sqrt(1.32)-1, 1e-9))
		})
	})

	Context("per-row statistics", func() {
		rows := []*data.PeriodicReturnRow{
			yearRow("2019", 2019, fl(0.25), fl(0.24), fl(0.18), fl(-0.12)),
			yearRow("2020", 2020, fl(-0.05), fl(-0.06), fl(0.32), fl(-0.34)),
			yearRow("2021", 2021, fl(0.15), fl(0.14), nil, fl(-0.08)),
		}

		It("selects the most negative drawdown", func() {
			stats := returns.Aggregate(rows, window(2019, 2021, "", ""))
			Expect(stats.MaxDrawdown).NotTo(BeNil())
			Expect(*stats.MaxDrawdown).To(Equal(-0.34))
		})

		It("averages the defined volatilities only", func() {
			stats := returns.Aggregate(rows, window(2019, 2021, "", ""))
			Expect(stats.AverageVolatility).NotTo(BeNil())
			Expect(*stats.AverageVolatility).To(BeNumerically("~", 0.25, 1e-9))
		})

		It("finds the best and worst periods", func() {
			stats := returns.Aggregate(rows, window(2019, 2021, "", ""))
			Expect(*stats.BestPeriodKey).To(Equal("2019"))
			Expect(*stats.BestPeriodReturn).To(Equal(0.25))
			Expect(*stats.WorstPeriodKey).To(Equal("2020"))
			Expect(*stats.WorstPeriodReturn).To(Equal(-0.05))
		})

		It("re-sorts rows that arrive newest first", func() {
			reversed := []*data.PeriodicReturnRow{rows[2], rows[1], rows[0]}
			stats := returns.Aggregate(reversed, nil)
			Expect(stats.Start).To(Equal(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
			Expect(stats.End).To(Equal(time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)))
			Expect(stats.Periods).To(Equal(3))
		})
	})
})
