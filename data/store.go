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
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/observability/opentelemetry"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// bucketExpressions maps an aggregation interval onto the SQL expression
// that buckets trade dates for the performance comparison query
var bucketExpressions = map[string]string{
	IntervalDay:   "f.trade_date",
	IntervalMonth: "date_trunc('month', f.trade_date)::date",
	IntervalYear:  "date_trunc('year', f.trade_date)::date",
}

// Store reads warehouse tables through the shared pgx pool
type Store struct {
}

func NewStore() *Store {
	return &Store{}
}

// GetAdjustedCloses loads the adjusted close series for each requested
// symbol over [start, end]. NULL and non-positive closes are omitted so a
// missing date always means "no usable observation". Symbols with zero
// observations are present in the result with an empty series.
func (s *Store) GetAdjustedCloses(ctx context.Context, symbols []string, start, end time.Time) (map[string]*PriceSeries, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetAdjustedCloses")
	defer span.End()

	if end.Before(start) {
		return nil, ErrInvalidTimeRange
	}

	subLog := log.With().Strs("Symbols", symbols).Time("Start", start).Time("End", end).Logger()

	series := make(map[string]*PriceSeries, len(symbols))
	for _, symbol := range symbols {
		series[symbol] = NewPriceSeries(symbol)
	}

	query := `SELECT symbol, trade_date, adjusted_close
		FROM mart_daily_quotes
		WHERE symbol = ANY($1)
		  AND trade_date BETWEEN $2 AND $3
		  AND adjusted_close IS NOT NULL
		  AND adjusted_close > 0
		ORDER BY trade_date`
	rows, err := database.Pool().Query(ctx, query, symbols, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjusted close query failed")
		subLog.Error().Stack().Err(err).Msg("could not query adjusted closes")
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var tradeDate time.Time
		var adjClose decimal.Decimal
		if err := rows.Scan(&symbol, &tradeDate, &adjClose); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan adjusted close row")
			return nil, err
		}
		if ps, ok := series[symbol]; ok {
			ps.Put(tradeDate, adjClose)
		}
	}

	if err := rows.Err(); err != nil {
		subLog.Error().Stack().Err(err).Msg("adjusted close row read failed")
		return nil, err
	}

	return series, nil
}

// GetPeriodicReturns returns up to limit month or year buckets for symbol,
// newest first. Callers that aggregate must re-sort ascending themselves.
func (s *Store) GetPeriodicReturns(ctx context.Context, symbol string, periodType string, limit int) ([]*PeriodicReturnRow, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetPeriodicReturns")
	defer span.End()

	if periodType != PeriodMonth && periodType != PeriodYear {
		return nil, ErrInvalidPeriodType
	}

	subLog := log.With().Str("Symbol", symbol).Str("PeriodType", periodType).Logger()

	query := `SELECT period_key, period_start, period_end, trading_days,
		total_return_pct, compound_return_pct, volatility_pct, max_drawdown_pct
		FROM mart_etf_periodic_returns
		WHERE symbol = $1 AND period_type = $2
		ORDER BY period_start DESC
		LIMIT $3`
	rows, err := database.Pool().Query(ctx, query, symbol, periodType, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "periodic return query failed")
		subLog.Error().Stack().Err(err).Msg("could not query periodic returns")
		return nil, err
	}
	defer rows.Close()

	result := make([]*PeriodicReturnRow, 0, limit)
	for rows.Next() {
		row, err := scanPeriodicReturn(rows)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan periodic return row")
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		subLog.Error().Stack().Err(err).Msg("periodic return row read failed")
		return nil, err
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// GetReturnStatsWindow computes the trailing windowYears analysis window for
// symbol (clamped to available history) along with the boundary adjusted
// closes and all year buckets overlapping the window
func (s *Store) GetReturnStatsWindow(ctx context.Context, symbol string, windowYears int) (*StatsWindow, []*PeriodicReturnRow, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetReturnStatsWindow")
	defer span.End()

	subLog := log.With().Str("Symbol", symbol).Int("WindowYears", windowYears).Logger()

	boundsSQL := `WITH bounds AS (
			SELECT MIN(trade_date) AS min_trade_date, MAX(trade_date) AS max_trade_date
			FROM mart_daily_quotes
			WHERE symbol = $1
		),
		range_bounds AS (
			SELECT max_trade_date,
			       GREATEST(min_trade_date, (max_trade_date - make_interval(years => $2))::date) AS start_cut
			FROM bounds
		),
		actual_bounds AS (
			SELECT (SELECT MIN(trade_date) FROM mart_daily_quotes
			        WHERE symbol = $1 AND trade_date >= rb.start_cut) AS window_start,
			       rb.max_trade_date AS window_end
			FROM range_bounds rb
		)
		SELECT ab.window_start, ab.window_end,
		       (SELECT adjusted_close FROM mart_daily_quotes
		        WHERE symbol = $1 AND trade_date = ab.window_start) AS start_price,
		       (SELECT adjusted_close FROM mart_daily_quotes
		        WHERE symbol = $1 AND trade_date = ab.window_end) AS end_price
		FROM actual_bounds ab`

	var windowStart, windowEnd sql.NullTime
	var startPrice, endPrice decimal.NullDecimal
	err := database.Pool().QueryRow(ctx, boundsSQL, symbol, windowYears).Scan(&windowStart, &windowEnd, &startPrice, &endPrice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats window query failed")
		subLog.Error().Stack().Err(err).Msg("could not query stats window bounds")
		return nil, nil, err
	}

	if !windowStart.Valid || !windowEnd.Valid {
		return nil, nil, ErrNotFound
	}

	window := &StatsWindow{
		Start: NormalizeDate(windowStart.Time),
		End:   NormalizeDate(windowEnd.Time),
	}
	if startPrice.Valid {
		window.StartPrice = &startPrice.Decimal
	}
	if endPrice.Valid {
		window.EndPrice = &endPrice.Decimal
	}

	rowsSQL := `SELECT period_key, period_start, period_end, trading_days,
		total_return_pct, compound_return_pct, volatility_pct, max_drawdown_pct
		FROM mart_etf_periodic_returns
		WHERE symbol = $1 AND period_type = 'year'
		  AND period_end >= $2 AND period_start <= $3
		ORDER BY period_start DESC`
	rows, err := database.Pool().Query(ctx, rowsSQL, symbol, window.Start, window.End)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats period query failed")
		subLog.Error().Stack().Err(err).Msg("could not query year buckets for stats window")
		return nil, nil, err
	}
	defer rows.Close()

	periods := make([]*PeriodicReturnRow, 0, windowYears)
	for rows.Next() {
		row, err := scanPeriodicReturn(rows)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan year bucket row")
			return nil, nil, err
		}
		periods = append(periods, row)
	}

	if err := rows.Err(); err != nil {
		subLog.Error().Stack().Err(err).Msg("year bucket row read failed")
		return nil, nil, err
	}

	if len(periods) == 0 {
		return nil, nil, ErrNotFound
	}

	return window, periods, nil
}

// GetPerformancePairs returns the aligned (bucket, symbol close, benchmark
// close) series for the trailing years window at the requested interval. A
// bucket is present only when both legs traded within it; each leg keeps its
// last close of the bucket.
func (s *Store) GetPerformancePairs(ctx context.Context, symbol, benchmark, interval string, years int) ([]*PerformancePair, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetPerformancePairs")
	defer span.End()

	bucketExpr, ok := bucketExpressions[interval]
	if !ok {
		return nil, ErrInvalidInterval
	}
	if symbol == benchmark {
		return nil, ErrBenchmarkConflict
	}

	subLog := log.With().Str("Symbol", symbol).Str("Benchmark", benchmark).Str("Interval", interval).Logger()

	query := fmt.Sprintf(`WITH symbol_bounds AS (
			SELECT symbol, MIN(trade_date) AS min_date, MAX(trade_date) AS max_date
			FROM mart_daily_quotes
			WHERE symbol = ANY($1)
			  AND adjusted_close IS NOT NULL AND adjusted_close > 0
			GROUP BY symbol
		),
		available AS (
			SELECT MIN(max_date) AS end_date, MAX(min_date) AS min_shared_date, COUNT(*) AS symbol_count
			FROM symbol_bounds
		),
		range_bounds AS (
			SELECT end_date,
			       GREATEST((end_date - make_interval(years => $2))::date, min_shared_date) AS start_date
			FROM available
			WHERE end_date IS NOT NULL AND min_shared_date IS NOT NULL AND symbol_count >= 2
		),
		filtered AS (
			SELECT mdq.symbol, mdq.trade_date, mdq.adjusted_close
			FROM mart_daily_quotes mdq
			JOIN range_bounds rb ON mdq.trade_date BETWEEN rb.start_date AND rb.end_date
			WHERE mdq.symbol = ANY($1)
			  AND mdq.adjusted_close IS NOT NULL AND mdq.adjusted_close > 0
		),
		bucketed AS (
			SELECT f.symbol, %s AS bucket_date, f.adjusted_close,
			       ROW_NUMBER() OVER (PARTITION BY f.symbol, %s ORDER BY f.trade_date DESC) AS rn_desc
			FROM filtered f
		),
		aligned AS (
			SELECT bucket_date,
			       MAX(CASE WHEN symbol = $3 THEN adjusted_close END) AS symbol_close,
			       MAX(CASE WHEN symbol = $4 THEN adjusted_close END) AS benchmark_close
			FROM bucketed
			WHERE rn_desc = 1
			GROUP BY bucket_date
			HAVING COUNT(*) FILTER (WHERE symbol = $3) > 0
			   AND COUNT(*) FILTER (WHERE symbol = $4) > 0
		)
		SELECT bucket_date, symbol_close, benchmark_close
		FROM aligned
		ORDER BY bucket_date`, bucketExpr, bucketExpr)

	rows, err := database.Pool().Query(ctx, query, []string{symbol, benchmark}, years, symbol, benchmark)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "performance pair query failed")
		subLog.Error().Stack().Err(err).Msg("could not query performance pairs")
		return nil, err
	}
	defer rows.Close()

	pairs := make([]*PerformancePair, 0, 252)
	for rows.Next() {
		pair := &PerformancePair{}
		if err := rows.Scan(&pair.BucketDate, &pair.SymbolClose, &pair.BenchmarkClose); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan performance pair")
			return nil, err
		}
		pair.BucketDate = NormalizeDate(pair.BucketDate)
		pairs = append(pairs, pair)
	}

	if err := rows.Err(); err != nil {
		subLog.Error().Stack().Err(err).Msg("performance pair row read failed")
		return nil, err
	}

	if len(pairs) == 0 {
		return nil, ErrNotFound
	}

	return pairs, nil
}

// GetRankingCandidates loads every active ETF's window boundary prices and
// trading-day coverage for a trailing windowYears ranking window. All
// eligibility rules are applied by the rankings package, not here.
func (s *Store) GetRankingCandidates(ctx context.Context, windowYears int) ([]*RankingCandidate, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetRankingCandidates")
	defer span.End()

	subLog := log.With().Int("WindowYears", windowYears).Logger()

	query := `WITH latest AS (
			SELECT max(mdq.trade_date) AS latest_date
			FROM mart_daily_quotes mdq
			JOIN dim_symbol ds ON ds.symbol = mdq.symbol
			WHERE ds.asset_type = 'ETF' AND ds.is_active
		),
		bounds AS (
			SELECT latest_date, (latest_date - make_interval(years => $1))::date AS start_cut
			FROM latest
		),
		start_prices AS (
			SELECT DISTINCT ON (mdq.symbol) mdq.symbol,
			       mdq.trade_date AS start_date,
			       mdq.adjusted_close AS start_price
			FROM mart_daily_quotes mdq
			JOIN dim_symbol ds ON ds.symbol = mdq.symbol
			JOIN bounds b ON true
			WHERE ds.asset_type = 'ETF' AND ds.is_active
			  AND mdq.adjusted_close IS NOT NULL
			  AND mdq.trade_date >= b.start_cut
			ORDER BY mdq.symbol, mdq.trade_date
		),
		end_prices AS (
			SELECT mdq.symbol, mdq.trade_date AS end_date, mdq.adjusted_close AS end_price
			FROM mart_daily_quotes mdq
			JOIN bounds b ON b.latest_date = mdq.trade_date
			WHERE mdq.adjusted_close IS NOT NULL
		),
		coverage AS (
			SELECT mdq.symbol,
			       min(mdq.trade_date) AS first_date,
			       COUNT(*) FILTER (WHERE mdq.trade_date BETWEEN b.start_cut AND b.latest_date
			                          AND mdq.adjusted_close IS NOT NULL) AS trading_days
			FROM mart_daily_quotes mdq
			JOIN bounds b ON true
			GROUP BY mdq.symbol
		)
		SELECT sp.symbol, ds.name, cov.first_date, sp.start_date, ep.end_date,
		       sp.start_price, ep.end_price, cov.trading_days
		FROM start_prices sp
		JOIN end_prices ep ON ep.symbol = sp.symbol
		JOIN coverage cov ON cov.symbol = sp.symbol
		JOIN dim_symbol ds ON ds.symbol = sp.symbol
		WHERE sp.start_price > 0 AND ep.end_price > 0
		ORDER BY sp.symbol`

	rows, err := database.Pool().Query(ctx, query, windowYears)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking candidate query failed")
		subLog.Error().Stack().Err(err).Msg("could not query ranking candidates")
		return nil, err
	}
	defer rows.Close()

	candidates := make([]*RankingCandidate, 0, 100)
	for rows.Next() {
		cand := &RankingCandidate{}
		if err := rows.Scan(&cand.Symbol, &cand.Name, &cand.FirstDate, &cand.StartDate,
			&cand.EndDate, &cand.StartPrice, &cand.EndPrice, &cand.TradingDays); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan ranking candidate")
			return nil, err
		}
		cand.FirstDate = NormalizeDate(cand.FirstDate)
		cand.StartDate = NormalizeDate(cand.StartDate)
		cand.EndDate = NormalizeDate(cand.EndDate)
		candidates = append(candidates, cand)
	}

	if err := rows.Err(); err != nil {
		subLog.Error().Stack().Err(err).Msg("ranking candidate row read failed")
		return nil, err
	}

	return candidates, nil
}

// GetReverseSplits returns every split event with a ratio below one
func (s *Store) GetReverseSplits(ctx context.Context) ([]*SplitEvent, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetReverseSplits")
	defer span.End()

	query := `SELECT symbol, action_date, value
		FROM fact_corporate_actions
		WHERE action_type = 'split' AND value IS NOT NULL AND value < 1
		ORDER BY symbol, action_date`
	rows, err := database.Pool().Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverse split query failed")
		log.Error().Stack().Err(err).Msg("could not query reverse splits")
		return nil, err
	}
	defer rows.Close()

	events := make([]*SplitEvent, 0, 100)
	for rows.Next() {
		event := &SplitEvent{}
		if err := rows.Scan(&event.Symbol, &event.Date, &event.Ratio); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan reverse split")
			return nil, err
		}
		event.Date = NormalizeDate(event.Date)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		log.Error().Stack().Err(err).Msg("reverse split row read failed")
		return nil, err
	}

	return events, nil
}

// GetIndustryMembers lists active securities grouped by sector and industry.
// Blank labels are folded to fallbackLabel so that grouping keys stay stable.
func (s *Store) GetIndustryMembers(ctx context.Context, sector, industry, fallbackLabel string) ([]*IndustryMember, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "store.GetIndustryMembers")
	defer span.End()

	conditions := []string{"is_active IS DISTINCT FROM FALSE"}
	args := []interface{}{fallbackLabel}
	if sector != "" {
		args = append(args, sector)
		conditions = append(conditions, fmt.Sprintf("COALESCE(NULLIF(sector, ''), $1) = $%d", len(args)))
	}
	if industry != "" {
		args = append(args, industry)
		conditions = append(conditions, fmt.Sprintf("COALESCE(NULLIF(industry, ''), $1) = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT COALESCE(NULLIF(sector, ''), $1) AS sector_name,
		       COALESCE(NULLIF(industry, ''), $1) AS industry_name,
		       symbol, COALESCE(name, ''), COALESCE(exchange, ''), COALESCE(asset_type, '')
		FROM dim_symbol
		WHERE %s
		ORDER BY sector_name, industry_name, symbol`, strings.Join(conditions, " AND "))

	rows, err := database.Pool().Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "industry query failed")
		log.Error().Stack().Err(err).Msg("could not query industry members")
		return nil, err
	}
	defer rows.Close()

	members := make([]*IndustryMember, 0, 100)
	for rows.Next() {
		member := &IndustryMember{}
		if err := rows.Scan(&member.Sector, &member.Industry, &member.Symbol,
			&member.Name, &member.Exchange, &member.AssetType); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan industry member")
			return nil, err
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		log.Error().Stack().Err(err).Msg("industry row read failed")
		return nil, err
	}

	if len(members) == 0 {
		return nil, ErrNotFound
	}

	return members, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPeriodicReturn(row scannable) (*PeriodicReturnRow, error) {
	var totalReturn, compoundReturn, volatility, maxDrawdown sql.NullFloat64
	result := &PeriodicReturnRow{}
	if err := row.Scan(&result.PeriodKey, &result.PeriodStart, &result.PeriodEnd, &result.TradingDays,
		&totalReturn, &compoundReturn, &volatility, &maxDrawdown); err != nil {
		return nil, err
	}

	result.PeriodStart = NormalizeDate(result.PeriodStart)
	result.PeriodEnd = NormalizeDate(result.PeriodEnd)
	result.TotalReturnPct = nullableFloat(totalReturn)
	result.CompoundReturnPct = nullableFloat(compoundReturn)
	result.VolatilityPct = nullableFloat(volatility)
	result.MaxDrawdownPct = nullableFloat(maxDrawdown)
	return result, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
