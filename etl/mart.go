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

package etl

import (
	"context"
	"time"

	"github.com/quantlake/etfdata/data/database"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// defaultMaxNullTurnoverRatio is the fraction of mart rows allowed to carry a
// NULL turnover rate before the monitor warns. Override with the
// monitor.max_null_turnover_ratio setting.
const defaultMaxNullTurnoverRatio = 0.2

// RefreshDailyMart rebuilds mart_daily_quotes for the given symbols over the
// date range. All derived columns (change, turnover, valuation ratios,
// trailing percent changes) are computed in one pass so partially loaded
// staging data cannot leave the mart internally inconsistent.
func (l *Loader) RefreshDailyMart(ctx context.Context, symbols []string, startDate, endDate time.Time) (err error) {
	ctx, endSpan := startSpan(ctx, "etl.RefreshDailyMart")
	defer func() { endSpan(err) }()

	subLog := log.With().Strs("Symbols", symbols).Time("StartDate", startDate).Time("EndDate", endDate).Logger()

	sql := `WITH latest_fund AS (
		SELECT symbol, "SharesOutstanding", "SharesFloat", "MarketCapitalization",
			"PERatio", "PriceBookMRQ", "PriceSalesTTM", "DividendYield"
		FROM (
			SELECT f.*, row_number() OVER (PARTITION BY symbol ORDER BY "UpdatedAt" DESC) AS rn
			FROM stg_fundamentals f
			WHERE symbol = ANY($1)
		) ranked
		WHERE rn = 1
	), daily AS (
		SELECT q.symbol, q.date AS trade_date, q.open, q.high, q.low, q.close,
			q.adjusted_close, q.volume,
			lag(q.close) OVER w AS pre_close,
			lag(q.adjusted_close, 5) OVER w AS adj_close_5,
			lag(q.adjusted_close, 10) OVER w AS adj_close_10,
			lag(q.adjusted_close, 20) OVER w AS adj_close_20,
			lag(q.adjusted_close, 60) OVER w AS adj_close_60,
			avg(q.volume) OVER (PARTITION BY q.symbol ORDER BY q.date ROWS BETWEEN 4 PRECEDING AND CURRENT ROW) AS avg_volume_5
		FROM stg_eod_quotes q
		WHERE q.symbol = ANY($1)
		WINDOW w AS (PARTITION BY q.symbol ORDER BY q.date)
	)
	INSERT INTO mart_daily_quotes (
		symbol, trade_date, open, high, low, close, pre_close, adjusted_close,
		change_amt, pct_chg, volume, amount, turnover_rate, turnover_rate_f,
		volume_ratio, pe, pb, ps, dv_ratio, total_share, float_share,
		total_mv, circ_mv, pct_chg_5d, pct_chg_10d, pct_chg_20d, pct_chg_60d,
		updated_at
	)
	SELECT d.symbol, d.trade_date, d.open, d.high, d.low, d.close, d.pre_close, d.adjusted_close,
		d.close - d.pre_close,
		CASE WHEN d.pre_close IS NULL OR d.pre_close = 0 THEN NULL ELSE d.close / d.pre_close - 1 END,
		d.volume,
		d.close * d.volume,
		CASE WHEN f."SharesOutstanding" IS NULL OR f."SharesOutstanding" = 0 THEN NULL ELSE d.volume / f."SharesOutstanding" END,
		CASE WHEN f."SharesFloat" IS NULL OR f."SharesFloat" = 0 THEN NULL ELSE d.volume / f."SharesFloat" END,
		CASE WHEN d.avg_volume_5 IS NULL OR d.avg_volume_5 = 0 THEN NULL ELSE d.volume / d.avg_volume_5 END,
		f."PERatio", f."PriceBookMRQ", f."PriceSalesTTM", f."DividendYield",
		f."SharesOutstanding", f."SharesFloat",
		CASE WHEN f."SharesOutstanding" IS NULL THEN NULL ELSE d.close * f."SharesOutstanding" END,
		CASE WHEN f."SharesFloat" IS NULL THEN NULL ELSE d.close * f."SharesFloat" END,
		CASE WHEN d.adj_close_5 IS NULL OR d.adj_close_5 = 0 THEN NULL ELSE d.adjusted_close / d.adj_close_5 - 1 END,
		CASE WHEN d.adj_close_10 IS NULL OR d.adj_close_10 = 0 THEN NULL ELSE d.adjusted_close / d.adj_close_10 - 1 END,
		CASE WHEN d.adj_close_20 IS NULL OR d.adj_close_20 = 0 THEN NULL ELSE d.adjusted_close / d.adj_close_20 - 1 END,
		CASE WHEN d.adj_close_60 IS NULL OR d.adj_close_60 = 0 THEN NULL ELSE d.adjusted_close / d.adj_close_60 - 1 END,
		now()
	FROM daily d
	LEFT JOIN latest_fund f ON f.symbol = d.symbol
	WHERE d.trade_date BETWEEN $2 AND $3
	ON CONFLICT (symbol, trade_date) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		close = EXCLUDED.close, pre_close = EXCLUDED.pre_close,
		adjusted_close = EXCLUDED.adjusted_close, change_amt = EXCLUDED.change_amt,
		pct_chg = EXCLUDED.pct_chg, volume = EXCLUDED.volume, amount = EXCLUDED.amount,
		turnover_rate = EXCLUDED.turnover_rate, turnover_rate_f = EXCLUDED.turnover_rate_f,
		volume_ratio = EXCLUDED.volume_ratio, pe = EXCLUDED.pe, pb = EXCLUDED.pb,
		ps = EXCLUDED.ps, dv_ratio = EXCLUDED.dv_ratio, total_share = EXCLUDED.total_share,
		float_share = EXCLUDED.float_share, total_mv = EXCLUDED.total_mv,
		circ_mv = EXCLUDED.circ_mv, pct_chg_5d = EXCLUDED.pct_chg_5d,
		pct_chg_10d = EXCLUDED.pct_chg_10d, pct_chg_20d = EXCLUDED.pct_chg_20d,
		pct_chg_60d = EXCLUDED.pct_chg_60d, updated_at = now()`

	tag, err := database.Pool().Exec(ctx, sql, symbols, startDate, endDate)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not refresh daily mart")
		return err
	}

	subLog.Info().Int64("Rows", tag.RowsAffected()).Msg("refreshed daily mart")
	return nil
}

// RefreshPeriodicReturns rebuilds month and year buckets of
// mart_etf_periodic_returns from the daily mart. The compound return uses a
// log-sum so a period with any missing daily change falls back to NULL rather
// than silently dropping days.
func (l *Loader) RefreshPeriodicReturns(ctx context.Context, symbols []string, startDate, endDate time.Time) (err error) {
	ctx, endSpan := startSpan(ctx, "etl.RefreshPeriodicReturns")
	defer func() { endSpan(err) }()

	subLog := log.With().Strs("Symbols", symbols).Time("StartDate", startDate).Time("EndDate", endDate).Logger()

	sql := `WITH buckets AS (
		SELECT unnest(ARRAY['month', 'year']) AS period_type
	), base AS (
		SELECT b.period_type, q.symbol, q.trade_date, q.adjusted_close, q.pct_chg,
			CASE WHEN b.period_type = 'month'
				THEN to_char(q.trade_date, 'YYYY-MM')
				ELSE to_char(q.trade_date, 'YYYY') END AS period_key
		FROM mart_daily_quotes q
		CROSS JOIN buckets b
		WHERE q.symbol = ANY($1)
			AND q.trade_date BETWEEN $2 AND $3
			AND q.adjusted_close IS NOT NULL
			AND q.adjusted_close > 0
	), tracked AS (
		SELECT base.*,
			max(adjusted_close) OVER (PARTITION BY period_type, symbol, period_key ORDER BY trade_date) AS running_peak
		FROM base
	), agg AS (
		SELECT period_type, symbol, period_key,
			min(trade_date) AS period_start,
			max(trade_date) AS period_end,
			count(*) AS trading_days,
			(array_agg(adjusted_close ORDER BY trade_date DESC))[1]
				/ (array_agg(adjusted_close ORDER BY trade_date ASC))[1] - 1 AS total_return_pct,
			CASE WHEN count(*) FILTER (WHERE pct_chg IS NULL OR pct_chg <= -1) = 0
				THEN exp(sum(ln(1 + pct_chg))) - 1 END AS compound_return_pct,
			CASE WHEN count(pct_chg) > 1
				THEN stddev_pop(pct_chg) * sqrt(252) END AS volatility_pct,
			min(adjusted_close / running_peak - 1) AS max_drawdown_pct
		FROM tracked
		GROUP BY period_type, symbol, period_key
	)
	INSERT INTO mart_etf_periodic_returns (
		symbol, period_type, period_key, period_start, period_end, trading_days,
		total_return_pct, compound_return_pct, volatility_pct, max_drawdown_pct, updated_at
	)
	SELECT symbol, period_type, period_key, period_start, period_end, trading_days,
		total_return_pct, compound_return_pct, volatility_pct, max_drawdown_pct, now()
	FROM agg
	ON CONFLICT (symbol, period_type, period_key) DO UPDATE SET
		period_start = EXCLUDED.period_start,
		period_end = EXCLUDED.period_end,
		trading_days = EXCLUDED.trading_days,
		total_return_pct = EXCLUDED.total_return_pct,
		compound_return_pct = EXCLUDED.compound_return_pct,
		volatility_pct = EXCLUDED.volatility_pct,
		max_drawdown_pct = EXCLUDED.max_drawdown_pct,
		updated_at = now()`

	tag, err := database.Pool().Exec(ctx, sql, symbols, startDate, endDate)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not refresh periodic returns")
		return err
	}

	subLog.Info().Int64("Rows", tag.RowsAffected()).Msg("refreshed periodic returns")
	return nil
}

// NullMetrics summarizes NULL counts for derived mart columns over a date range
type NullMetrics struct {
	TotalRows       int64
	NullTurnover    int64
	NullVolumeRatio int64
	NullTotalShare  int64
}

// CheckNullMetrics counts NULL derived columns in the daily mart and logs a
// warning for each metric whose null rate exceeds its threshold. The returned
// counts let callers surface the numbers in batch summaries.
func (l *Loader) CheckNullMetrics(ctx context.Context, startDate, endDate time.Time) (_ *NullMetrics, err error) {
	ctx, endSpan := startSpan(ctx, "etl.CheckNullMetrics")
	defer func() { endSpan(err) }()

	sql := `SELECT count(*) AS total_rows,
		count(*) FILTER (WHERE turnover_rate IS NULL) AS null_turnover,
		count(*) FILTER (WHERE volume_ratio IS NULL) AS null_volume_ratio,
		count(*) FILTER (WHERE total_share IS NULL) AS null_total_share
	FROM mart_daily_quotes
	WHERE trade_date BETWEEN $1 AND $2`

	metrics := &NullMetrics{}
	row := database.Pool().QueryRow(ctx, sql, startDate, endDate)
	if err = row.Scan(&metrics.TotalRows, &metrics.NullTurnover, &metrics.NullVolumeRatio, &metrics.NullTotalShare); err != nil {
		log.Error().Stack().Err(err).Msg("could not compute null metrics")
		return nil, err
	}

	if metrics.TotalRows == 0 {
		return metrics, nil
	}

	maxTurnoverRatio := defaultMaxNullTurnoverRatio
	if viper.IsSet("monitor.max_null_turnover_ratio") {
		maxTurnoverRatio = viper.GetFloat64("monitor.max_null_turnover_ratio")
	}

	total := float64(metrics.TotalRows)
	if float64(metrics.NullTurnover)/total > maxTurnoverRatio {
		log.Warn().Int64("NullTurnover", metrics.NullTurnover).Int64("TotalRows", metrics.TotalRows).
			Float64("Threshold", maxTurnoverRatio).Msg("turnover_rate null ratio above threshold")
	}
	// volume_ratio needs a 5 day average, so leading rows are expected nulls
	maxNullVolume := metrics.TotalRows - 1
	if viper.IsSet("monitor.max_null_volume_rows") {
		maxNullVolume = viper.GetInt64("monitor.max_null_volume_rows")
	}
	if metrics.NullVolumeRatio > maxNullVolume {
		log.Warn().Int64("NullVolumeRatio", metrics.NullVolumeRatio).Int64("TotalRows", metrics.TotalRows).
			Msg("volume_ratio is null for nearly every row")
	}
	if metrics.NullTotalShare == metrics.TotalRows {
		log.Warn().Int64("TotalRows", metrics.TotalRows).Msg("total_share is null for every row; fundamentals may be missing")
	}

	return metrics, nil
}
