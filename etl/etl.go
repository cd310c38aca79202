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

// Package etl loads EODHD payloads into the staging tables and refreshes
// the derived marts
package etl

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/eodhd"
	"github.com/quantlake/etfdata/observability/opentelemetry"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Loader writes provider payloads through the shared pgx pool
type Loader struct {
}

func NewLoader() *Loader {
	return &Loader{}
}

// UpsertSymbol inserts or refreshes the dim_symbol row for a fundamentals
// payload and returns the canonical warehouse symbol
func (l *Loader) UpsertSymbol(ctx context.Context, requestSymbol string, fundamentals *eodhd.Fundamentals) (_ string, err error) {
	ctx, endSpan := startSpan(ctx, "etl.UpsertSymbol")
	defer func() { endSpan(err) }()

	general := &fundamentals.General
	sector, industry := eodhd.SectorIndustry(general)
	storedSymbol := eodhd.CanonicalSymbol(requestSymbol, general)

	sql := `INSERT INTO dim_symbol (symbol, name, exchange, asset_type, sector, industry, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, now())
		ON CONFLICT (symbol)
		DO UPDATE SET name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			asset_type = EXCLUDED.asset_type,
			sector = EXCLUDED.sector,
			industry = EXCLUDED.industry,
			updated_at = now()`
	_, err = database.Pool().Exec(ctx, sql, storedSymbol, general.Name, general.Exchange,
		general.Type, nullString(sector), nullString(industry))
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", storedSymbol).Msg("could not upsert symbol")
		return "", err
	}

	return storedSymbol, nil
}

// UpsertFundamentals stages a fundamentals snapshot keyed by its UpdatedAt
// timestamp; re-loading an unchanged snapshot is a no-op
func (l *Loader) UpsertFundamentals(ctx context.Context, symbol string, fundamentals *eodhd.Fundamentals) (err error) {
	ctx, endSpan := startSpan(ctx, "etl.UpsertFundamentals")
	defer func() { endSpan(err) }()

	sharesOutstanding, sharesFloat := eodhd.DeriveShares(fundamentals)

	updatedAt := time.Now().UTC()
	if fundamentals.General.UpdatedAt != "" {
		if parsed, err := time.Parse("2006-01-02 15:04:05", fundamentals.General.UpdatedAt); err == nil {
			updatedAt = parsed
		} else if parsed, err := time.Parse(time.RFC3339, fundamentals.General.UpdatedAt); err == nil {
			updatedAt = parsed
		}
	}

	sql := `INSERT INTO stg_fundamentals (
			symbol, "FiscalYearEnd", "SharesOutstanding", "SharesFloat", "MarketCapitalization",
			"PERatio", "PriceBookMRQ", "PriceSalesTTM", "DividendYield", "DividendShare",
			"UpdatedAt", "Payload"
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol, "UpdatedAt") DO NOTHING`
	_, err = database.Pool().Exec(ctx, sql, symbol,
		nullString(fundamentals.General.FiscalYearEnd),
		sharesOutstanding, sharesFloat,
		fundamentals.Highlights.MarketCapitalization,
		fundamentals.Highlights.PERatio,
		fundamentals.Valuation.PriceBookMRQ,
		fundamentals.Valuation.PriceSalesTTM,
		fundamentals.Highlights.DividendYield,
		fundamentals.Highlights.DividendShare,
		updatedAt, fundamentals.Raw)
	if err != nil {
		log.Error().Stack().Err(err).Str("Symbol", symbol).Msg("could not upsert fundamentals")
		return err
	}

	return nil
}

// UpsertQuotes stages end-of-day bars in a single transaction
func (l *Loader) UpsertQuotes(ctx context.Context, symbol string, quotes []*eodhd.EodQuote) (err error) {
	if len(quotes) == 0 {
		return nil
	}

	ctx, endSpan := startSpan(ctx, "etl.UpsertQuotes")
	defer func() { endSpan(err) }()

	trx, err := database.Pool().Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO stg_eod_quotes (symbol, date, open, high, low, close, adjusted_close, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			adjusted_close = EXCLUDED.adjusted_close,
			volume = EXCLUDED.volume,
			updated_at = now()`
	for _, quote := range quotes {
		if quote.Date == "" {
			continue
		}
		if _, err := trx.Exec(ctx, sql, symbol, quote.Date, quote.Open, quote.High,
			quote.Low, quote.Close, quote.AdjustedClose, quote.Volume); err != nil {
			log.Error().Stack().Err(err).Str("Symbol", symbol).Str("Date", quote.Date).Msg("could not upsert quote")
			if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
				log.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
			}
			return err
		}
	}

	return trx.Commit(ctx)
}

// UpsertDividends stages cash dividend events as corporate actions
func (l *Loader) UpsertDividends(ctx context.Context, symbol string, dividends []*eodhd.Dividend) (err error) {
	if len(dividends) == 0 {
		return nil
	}

	ctx, endSpan := startSpan(ctx, "etl.UpsertDividends")
	defer func() { endSpan(err) }()

	trx, err := database.Pool().Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO fact_corporate_actions (symbol, action_date, action_type, value, currency, source_payload, updated_at)
		VALUES ($1, $2, 'dividend', $3, $4, $5, now())
		ON CONFLICT (symbol, action_date, action_type) DO UPDATE SET
			value = EXCLUDED.value,
			currency = EXCLUDED.currency,
			source_payload = EXCLUDED.source_payload,
			updated_at = now()`
	for _, dividend := range dividends {
		if dividend.Date == "" {
			continue
		}
		payload, err := json.Marshal(dividend)
		if err != nil {
			return err
		}
		if _, err := trx.Exec(ctx, sql, symbol, dividend.Date, dividend.Value, dividend.Currency, payload); err != nil {
			log.Error().Stack().Err(err).Str("Symbol", symbol).Str("Date", dividend.Date).Msg("could not upsert dividend")
			if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
				log.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
			}
			return err
		}
	}

	return trx.Commit(ctx)
}

// UpsertSplits stages split events. Unparseable ratios load as NULL so the
// raw payload is still preserved for inspection.
func (l *Loader) UpsertSplits(ctx context.Context, symbol string, splits []*eodhd.Split) (err error) {
	if len(splits) == 0 {
		return nil
	}

	ctx, endSpan := startSpan(ctx, "etl.UpsertSplits")
	defer func() { endSpan(err) }()

	trx, err := database.Pool().Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO fact_corporate_actions (symbol, action_date, action_type, value, source_payload, updated_at)
		VALUES ($1, $2, 'split', $3, $4, now())
		ON CONFLICT (symbol, action_date, action_type) DO UPDATE SET
			value = EXCLUDED.value,
			source_payload = EXCLUDED.source_payload,
			updated_at = now()`
	for _, split := range splits {
		if split.Date == "" {
			continue
		}
		var ratioArg interface{}
		if ratio, ok := eodhd.ParseSplitRatio(split.Ratio); ok {
			ratioArg = ratio
		}
		payload, err := json.Marshal(split)
		if err != nil {
			return err
		}
		if _, err := trx.Exec(ctx, sql, symbol, split.Date, ratioArg, payload); err != nil {
			log.Error().Stack().Err(err).Str("Symbol", symbol).Str("Date", split.Date).Msg("could not upsert split")
			if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
				log.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
			}
			return err
		}
	}

	return trx.Commit(ctx)
}

func nullString(val string) interface{} {
	if val == "" {
		return nil
	}
	return val
}

func startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, name+" failed")
		}
		span.End()
	}
}
