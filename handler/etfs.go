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

package handler

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/returns"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	defaultReturnLimit = 24
	defaultStatsYears  = 5
)

// GetEtfReturns serves pre-computed month or year return buckets for a symbol
func GetEtfReturns(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	periodType := c.Query("period", data.PeriodMonth)
	limit := cast.ToInt(c.Query("limit", cast.ToString(defaultReturnLimit)))

	subLog := log.With().Str("Symbol", symbol).Str("Endpoint", "GetEtfReturns").Logger()

	store := data.NewStore()
	rows, err := store.GetPeriodicReturns(context.Background(), symbol, periodType, limit)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not load periodic returns")
		return apiError(err)
	}

	return c.JSON(fiber.Map{
		"symbol":  symbol,
		"period":  periodType,
		"returns": rows,
	})
}

// GetEtfStats serves the aggregated trailing-window summary for a symbol
func GetEtfStats(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	windowYears := cast.ToInt(c.Query("years", cast.ToString(defaultStatsYears)))
	if windowYears <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "years must be positive")
	}

	subLog := log.With().Str("Symbol", symbol).Str("Endpoint", "GetEtfStats").Logger()

	key := common.CacheKey(c.Path(), string(c.Request().URI().QueryString()))
	if body, err := common.CacheGet(key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}

	store := data.NewStore()
	window, rows, err := store.GetReturnStatsWindow(context.Background(), symbol, windowYears)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not load return stats window")
		return apiError(err)
	}

	stats := returns.Aggregate(rows, window)
	body, err := json.Marshal(fiber.Map{
		"symbol":      symbol,
		"windowYears": windowYears,
		"stats":       stats,
	})
	if err != nil {
		subLog.Error().Err(err).Msg("could not marshal stats response")
		return fiber.ErrInternalServerError
	}

	if err := common.CacheSet(key, body); err != nil {
		subLog.Warn().Err(err).Msg("could not cache stats response")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// PerformancePoint is one bucket of the benchmark-relative series, rebased so
// both legs start at 1.0
type PerformancePoint struct {
	Date               string  `json:"date"`
	EtfValue           float64 `json:"etfValue"`
	BenchmarkValue     float64 `json:"benchmarkValue"`
	EtfReturnPct       float64 `json:"etfReturnPct"`
	BenchmarkReturnPct float64 `json:"benchmarkReturnPct"`
	SpreadPct          float64 `json:"spreadPct"`
}

// GetEtfPerformance serves the symbol-vs-benchmark cumulative series. Both
// legs are rebased to their first common bucket so the spread reads directly
// as relative out/under-performance.
func GetEtfPerformance(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	interval := c.Query("interval", data.IntervalDay)
	years := cast.ToInt(c.Query("years", cast.ToString(defaultLookbackYears())))
	benchmark := c.Query("benchmark", defaultBenchmark())
	if years <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "years must be positive")
	}

	subLog := log.With().Str("Symbol", symbol).Str("Benchmark", benchmark).
		Str("Endpoint", "GetEtfPerformance").Logger()

	key := common.CacheKey(c.Path(), string(c.Request().URI().QueryString()))
	if body, err := common.CacheGet(key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}

	store := data.NewStore()
	pairs, err := store.GetPerformancePairs(context.Background(), symbol, benchmark, interval, years)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not load performance pairs")
		return apiError(err)
	}
	if len(pairs) == 0 {
		return fiber.ErrNotFound
	}

	base := pairs[0]
	points := make([]*PerformancePoint, 0, len(pairs))
	for _, pair := range pairs {
		etfValue := pair.SymbolClose.Div(base.SymbolClose)
		benchValue := pair.BenchmarkClose.Div(base.BenchmarkClose)
		etfReturn, _ := etfValue.Sub(decimal.New(1, 0)).Float64()
		benchReturn, _ := benchValue.Sub(decimal.New(1, 0)).Float64()
		etfFloat, _ := etfValue.Float64()
		benchFloat, _ := benchValue.Float64()
		points = append(points, &PerformancePoint{
			Date:               pair.BucketDate.Format("2006-01-02"),
			EtfValue:           etfFloat,
			BenchmarkValue:     benchFloat,
			EtfReturnPct:       etfReturn,
			BenchmarkReturnPct: benchReturn,
			SpreadPct:          etfReturn - benchReturn,
		})
	}

	body, err := json.Marshal(fiber.Map{
		"symbol":    symbol,
		"benchmark": benchmark,
		"interval":  interval,
		"years":     years,
		"points":    points,
	})
	if err != nil {
		subLog.Error().Err(err).Msg("could not marshal performance response")
		return fiber.ErrInternalServerError
	}

	if err := common.CacheSet(key, body); err != nil {
		subLog.Warn().Err(err).Msg("could not cache performance response")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func defaultLookbackYears() int {
	if years := viper.GetInt("server.default_years"); years > 0 {
		return years
	}
	return 5
}

func defaultBenchmark() string {
	if benchmark := viper.GetString("server.default_benchmark"); benchmark != "" {
		return benchmark
	}
	return "SPY.US"
}

