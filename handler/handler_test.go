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

package handler_test

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/router"
	"github.com/spf13/viper"
)

func doRequest(app *fiber.App, target string, headers map[string]string) (int, []byte) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for key, val := range headers {
		req.Header.Set(key, val)
	}
	resp, err := app.Test(req, -1)
	Expect(err).To(BeNil())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).To(BeNil())
	return resp.StatusCode, body
}

var _ = Describe("API endpoints", func() {
	var (
		app    *fiber.App
		dbPool pgxmock.PgxConnIface
	)

	periodColumns := []string{"period_key", "period_start", "period_end", "trading_days",
		"total_return_pct", "compound_return_pct", "volatility_pct", "max_drawdown_pct"}

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		viper.Set("server.api_token", "")
		app = fiber.New()
		router.SetupRoutes(app)
	})

	It("answers the health check", func() {
		status, body := doRequest(app, "/healthz", nil)
		Expect(status).To(Equal(fiber.StatusOK))
		Expect(string(body)).To(ContainSubstring("API is alive"))
	})

	Context("periodic returns", func() {
		It("serves month buckets", func() {
			dbPool.ExpectQuery("FROM mart_etf_periodic_returns").
				WithArgs("VTI.US", "month", 24).
				WillReturnRows(pgxmock.NewRows(periodColumns).
					AddRow("2021-02", time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
						time.Date(2021, 2, 26, 0, 0, 0, 0, time.UTC), 19, 0.05, 0.049, 0.12, -0.03).
					AddRow("2021-01", time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
						time.Date(2021, 1, 29, 0, 0, 0, 0, time.UTC), 19, nil, nil, nil, nil))

			status, body := doRequest(app, "/api/etfs/VTI.US/returns", nil)
			Expect(status).To(Equal(fiber.StatusOK))

			var payload struct {
				Symbol  string `json:"symbol"`
				Period  string `json:"period"`
				Returns []struct {
					PeriodKey      string   `json:"periodKey"`
					TotalReturnPct *float64 `json:"totalReturnPct"`
				} `json:"returns"`
			}
			Expect(json.Unmarshal(body, &payload)).To(Succeed())
			Expect(payload.Symbol).To(Equal("VTI.US"))
			Expect(payload.Period).To(Equal("month"))
			Expect(payload.Returns).To(HaveLen(2))
			Expect(*payload.Returns[0].TotalReturnPct).To(Equal(0.05))
			Expect(payload.Returns[1].TotalReturnPct).To(BeNil())
		})

		It("rejects an unknown period type", func() {
			status, _ := doRequest(app, "/api/etfs/VTI.US/returns?period=week", nil)
			Expect(status).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 404 for a symbol with no rows", func() {
			dbPool.ExpectQuery("FROM mart_etf_periodic_returns").
				WithArgs("NOPE.US", "month", 24).
				WillReturnRows(pgxmock.NewRows(periodColumns))

			status, _ := doRequest(app, "/api/etfs/NOPE.US/returns", nil)
			Expect(status).To(Equal(fiber.StatusNotFound))
		})
	})

	Context("benchmark performance", func() {
		It("rebases both legs to the first common bucket", func() {
			dbPool.ExpectQuery("WITH symbol_bounds AS").
				WithArgs([]string{"TECL.US", "SPY.US"}, 5, "TECL.US", "SPY.US").
				WillReturnRows(pgxmock.NewRows([]string{"bucket_date", "symbol_close", "benchmark_close"}).
					AddRow(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), "100", "200").
					AddRow(time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), "110", "210"))

			status, body := doRequest(app, "/api/etfs/TECL.US/performance", nil)
			Expect(status).To(Equal(fiber.StatusOK))

			var payload struct {
				Benchmark string `json:"benchmark"`
				Points    []struct {
					Date               string  `json:"date"`
					EtfValue           float64 `json:"etfValue"`
					BenchmarkValue     float64 `json:"benchmarkValue"`
					EtfReturnPct       float64 `json:"etfReturnPct"`
					BenchmarkReturnPct float64 `json:"benchmarkReturnPct"`
					SpreadPct          float64 `json:"spreadPct"`
				} `json:"points"`
			}
			Expect(json.Unmarshal(body, &payload)).To(Succeed())
			Expect(payload.Benchmark).To(Equal("SPY.US"))
			Expect(payload.Points).To(HaveLen(2))
			Expect(payload.Points[0].EtfValue).To(Equal(1.0))
			Expect(payload.Points[0].BenchmarkValue).To(Equal(1.0))
			Expect(payload.Points[1].EtfValue).To(BeNumerically("~", 1.1, 1e-12))
			Expect(payload.Points[1].EtfReturnPct).To(BeNumerically("~", 0.1, 1e-12))
			Expect(payload.Points[1].BenchmarkReturnPct).To(BeNumerically("~", 0.05, 1e-12))
			Expect(payload.Points[1].SpreadPct).To(BeNumerically("~", 0.05, 1e-9))
		})

		It("rejects a benchmark equal to the symbol", func() {
			status, _ := doRequest(app, "/api/etfs/SPY.US/performance?benchmark=SPY.US", nil)
			Expect(status).To(Equal(fiber.StatusBadRequest))
		})

		It("rejects a non-positive lookback", func() {
			status, _ := doRequest(app, "/api/etfs/VTI.US/performance?years=0", nil)
			Expect(status).To(Equal(fiber.StatusBadRequest))
		})
	})

	Context("stats", func() {
		It("aggregates the trailing window and caches the response", func() {
			dbPool.ExpectQuery("WITH bounds AS").
				WithArgs("STATS.US", 5).
				WillReturnRows(pgxmock.NewRows([]string{"window_start", "window_end", "start_price", "end_price"}).
					AddRow(sql.NullTime{Time: time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC), Valid: true},
						sql.NullTime{Time: time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), Valid: true}, "100", "150"))
			dbPool.ExpectQuery("FROM mart_etf_periodic_returns").
				WithArgs("STATS.US",
					time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC),
					time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)).
				WillReturnRows(pgxmock.NewRows(periodColumns).
					AddRow("2019", time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC),
						time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC), 252, 0.2, 0.21, 0.15, -0.1))

			status, body := doRequest(app, "/api/etfs/STATS.US/stats", nil)
			Expect(status).To(Equal(fiber.StatusOK))

			var payload struct {
				Stats struct {
					Periods        int      `json:"periods"`
					TotalReturnPct *float64 `json:"totalReturnPct"`
				} `json:"stats"`
			}
			Expect(json.Unmarshal(body, &payload)).To(Succeed())
			Expect(payload.Stats.Periods).To(Equal(1))
			// boundary prices 100 -> 150 take precedence over compounding
			Expect(*payload.Stats.TotalReturnPct).To(BeNumerically("~", 0.5, 1e-12))

			// second request is served from cache; no further queries expected
			status, cachedBody := doRequest(app, "/api/etfs/STATS.US/stats", nil)
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(string(cachedBody)).To(Equal(string(body)))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Context("industries", func() {
		It("groups members by sector and industry", func() {
			dbPool.ExpectQuery("FROM dim_symbol").
				WithArgs("Unclassified").
				WillReturnRows(pgxmock.NewRows(
					[]string{"sector_name", "industry_name", "symbol", "name", "exchange", "asset_type"}).
					AddRow("Technology", "Semiconductors", "NVDA.US", "NVIDIA", "NASDAQ", "Common Stock").
					AddRow("Technology", "Semiconductors", "SMH.US", "VanEck Semiconductor", "NASDAQ", "ETF").
					AddRow("Unclassified", "Unclassified", "MYST.US", "Mystery", "NYSE", ""))

			status, body := doRequest(app, "/api/industries", nil)
			Expect(status).To(Equal(fiber.StatusOK))

			var payload struct {
				Count  int `json:"count"`
				Groups []struct {
					Sector     string `json:"sector"`
					Industry   string `json:"industry"`
					StockCount int    `json:"stockCount"`
					Etfs       []struct {
						Symbol string `json:"symbol"`
					} `json:"etfs"`
				} `json:"groups"`
			}
			Expect(json.Unmarshal(body, &payload)).To(Succeed())
			Expect(payload.Count).To(Equal(2))
			Expect(payload.Groups[0].Sector).To(Equal("Technology"))
			Expect(payload.Groups[0].StockCount).To(Equal(1))
			Expect(payload.Groups[0].Etfs).To(HaveLen(1))
			Expect(payload.Groups[0].Etfs[0].Symbol).To(Equal("SMH.US"))
		})

		It("filters out uncategorized groups when asked", func() {
			dbPool.ExpectQuery("FROM dim_symbol").
				WithArgs("Unclassified").
				WillReturnRows(pgxmock.NewRows(
					[]string{"sector_name", "industry_name", "symbol", "name", "exchange", "asset_type"}).
					AddRow("Unclassified", "Unclassified", "MYST.US", "Mystery", "NYSE", ""))

			status, body := doRequest(app, "/api/industries?skipUncategorized=true", nil)
			Expect(status).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"count":0`))
		})
	})

	Context("token auth", func() {
		BeforeEach(func() {
			viper.Set("server.api_token", "secret")
		})

		AfterEach(func() {
			viper.Set("server.api_token", "")
		})

		It("rejects requests without the token", func() {
			status, _ := doRequest(app, "/api/etfs/VTI.US/returns", nil)
			Expect(status).To(Equal(fiber.StatusUnauthorized))
		})

		It("accepts requests with the token", func() {
			dbPool.ExpectQuery("FROM mart_etf_periodic_returns").
				WithArgs("VTI.US", "month", 24).
				WillReturnRows(pgxmock.NewRows(periodColumns).
					AddRow("2021-01", time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
						time.Date(2021, 1, 29, 0, 0, 0, 0, time.UTC), 19, 0.02, nil, nil, nil))

			status, _ := doRequest(app, "/api/etfs/VTI.US/returns",
				map[string]string{"X-Api-Token": "secret"})
			Expect(status).To(Equal(fiber.StatusOK))
		})

		It("leaves the health check open", func() {
			status, _ := doRequest(app, "/healthz", nil)
			Expect(status).To(Equal(fiber.StatusOK))
		})
	})
})
