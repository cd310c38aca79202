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

package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantlake/etfdata/eodhd"
	"github.com/quantlake/etfdata/observability/opentelemetry"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrTooManyErrors = errors.New("error budget exhausted")
)

// saveEvery is how many symbols are processed between progress checkpoints
const saveEvery = 25

// DefaultMaxErrors is the per-exchange error budget before a run aborts
const DefaultMaxErrors = 100

// Provider is the slice of the market-data API the backfill needs
type Provider interface {
	ExchangeSymbols(ctx context.Context, exchange string) ([]string, error)
	Quotes(ctx context.Context, symbol, from, to string) ([]*eodhd.EodQuote, error)
	Dividends(ctx context.Context, symbol, from, to string) ([]*eodhd.Dividend, error)
	Splits(ctx context.Context, symbol, from, to string) ([]*eodhd.Split, error)
	Fundamentals(ctx context.Context, symbol string) (*eodhd.Fundamentals, error)
}

// Warehouse is the slice of the ETL loader the backfill needs
type Warehouse interface {
	UpsertSymbol(ctx context.Context, requestSymbol string, fundamentals *eodhd.Fundamentals) (string, error)
	UpsertFundamentals(ctx context.Context, symbol string, fundamentals *eodhd.Fundamentals) error
	UpsertQuotes(ctx context.Context, symbol string, quotes []*eodhd.EodQuote) error
	UpsertDividends(ctx context.Context, symbol string, dividends []*eodhd.Dividend) error
	UpsertSplits(ctx context.Context, symbol string, splits []*eodhd.Split) error
	RefreshDailyMart(ctx context.Context, symbols []string, startDate, endDate time.Time) error
	RefreshPeriodicReturns(ctx context.Context, symbols []string, startDate, endDate time.Time) error
}

// Runner works through each exchange's symbol list, loading history into the
// warehouse and checkpointing its position so an interrupted run resumes
// where it left off
type Runner struct {
	provider Provider
	loader   Warehouse
	progress *Progress

	StartDate   time.Time
	EndDate     time.Time
	MaxErrors   int
	RetryFailed bool

	// Pause is an optional delay between symbols to stay under the
	// provider's request rate limit
	Pause time.Duration
}

func NewRunner(provider Provider, loader Warehouse, progress *Progress, startDate, endDate time.Time) *Runner {
	return &Runner{
		provider:  provider,
		loader:    loader,
		progress:  progress,
		StartDate: startDate,
		EndDate:   endDate,
		MaxErrors: DefaultMaxErrors,
	}
}

// Run backfills each exchange in order. A cancelled context checkpoints and
// returns the context error; exceeding the error budget checkpoints and
// returns ErrTooManyErrors.
func (r *Runner) Run(ctx context.Context, exchanges []string) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "backfill.Run")
	defer span.End()

	for _, exchange := range exchanges {
		if err := r.runExchange(ctx, exchange); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backfill failed")
			return err
		}
	}
	return nil
}

func (r *Runner) runExchange(ctx context.Context, exchange string) error {
	subLog := log.With().Str("Exchange", exchange).Logger()

	symbols, err := r.provider.ExchangeSymbols(ctx, exchange)
	if err != nil {
		subLog.Error().Err(err).Msg("could not list exchange symbols")
		return err
	}

	entry := r.progress.ForExchange(exchange)
	if entry.NextIndex >= len(symbols) && entry.NextIndex > 0 {
		subLog.Info().Msg("exchange queue already complete")
	}

	loaded := make([]string, 0, len(symbols))
	for idx := entry.NextIndex; idx < len(symbols); idx++ {
		if err := ctx.Err(); err != nil {
			r.checkpoint(entry)
			return err
		}

		symbol := symbols[idx]
		if stored, err := r.processSymbol(ctx, symbol); err != nil {
			subLog.Warn().Err(err).Str("Symbol", symbol).Msg("symbol failed")
			entry.RecordFailure(symbol, err)
			if entry.ErrorCount >= r.MaxErrors {
				r.checkpoint(entry)
				return fmt.Errorf("%w: %d errors on %s", ErrTooManyErrors, entry.ErrorCount, exchange)
			}
		} else {
			loaded = append(loaded, stored)
		}

		entry.NextIndex = idx + 1
		if (idx+1)%saveEvery == 0 {
			r.checkpoint(entry)
		}

		r.pause(ctx)
	}

	if r.RetryFailed {
		retried := r.retryFailed(ctx, entry)
		loaded = append(loaded, retried...)
	}

	if len(loaded) > 0 {
		if err := r.loader.RefreshDailyMart(ctx, loaded, r.StartDate, r.EndDate); err != nil {
			return err
		}
		if err := r.loader.RefreshPeriodicReturns(ctx, loaded, r.StartDate, r.EndDate); err != nil {
			return err
		}
	}

	entry.End = time.Now().UTC().Format(time.RFC3339)
	r.checkpoint(entry)
	subLog.Info().Int("Loaded", len(loaded)).Int("Failed", len(entry.Failed)).Msg("exchange backfill complete")
	return nil
}

// retryFailed gives every recorded failure one more attempt and clears the
// ones that now succeed
func (r *Runner) retryFailed(ctx context.Context, entry *ExchangeProgress) []string {
	loaded := make([]string, 0, len(entry.Failed))
	symbols := make([]string, 0, len(entry.Failed))
	for symbol := range entry.Failed {
		symbols = append(symbols, symbol)
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if stored, err := r.processSymbol(ctx, symbol); err != nil {
			entry.RecordFailure(symbol, err)
		} else {
			entry.ClearFailure(symbol)
			loaded = append(loaded, stored)
		}
		r.pause(ctx)
	}
	return loaded
}

func (r *Runner) pause(ctx context.Context) {
	if r.Pause <= 0 {
		return
	}
	timer := time.NewTimer(r.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processSymbol loads one symbol's fundamentals, bars, and corporate actions
// and returns the canonical symbol the rows were stored under
func (r *Runner) processSymbol(ctx context.Context, symbol string) (string, error) {
	from := r.StartDate.Format("2006-01-02")
	to := r.EndDate.Format("2006-01-02")

	fundamentals, err := r.provider.Fundamentals(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("fundamentals: %w", err)
	}

	stored, err := r.loader.UpsertSymbol(ctx, symbol, fundamentals)
	if err != nil {
		return "", fmt.Errorf("upsert symbol: %w", err)
	}
	if err := r.loader.UpsertFundamentals(ctx, stored, fundamentals); err != nil {
		return "", fmt.Errorf("upsert fundamentals: %w", err)
	}

	quotes, err := r.provider.Quotes(ctx, symbol, from, to)
	if err != nil {
		return "", fmt.Errorf("quotes: %w", err)
	}
	if err := r.loader.UpsertQuotes(ctx, stored, quotes); err != nil {
		return "", fmt.Errorf("upsert quotes: %w", err)
	}

	dividends, err := r.provider.Dividends(ctx, symbol, from, to)
	if err != nil {
		return "", fmt.Errorf("dividends: %w", err)
	}
	if err := r.loader.UpsertDividends(ctx, stored, dividends); err != nil {
		return "", fmt.Errorf("upsert dividends: %w", err)
	}

	splits, err := r.provider.Splits(ctx, symbol, from, to)
	if err != nil {
		return "", fmt.Errorf("splits: %w", err)
	}
	if err := r.loader.UpsertSplits(ctx, stored, splits); err != nil {
		return "", fmt.Errorf("upsert splits: %w", err)
	}

	return stored, nil
}

func (r *Runner) checkpoint(entry *ExchangeProgress) {
	if err := r.progress.Save(); err != nil {
		log.Error().Err(err).Str("Exchange", entry.Exchange).Msg("could not save progress")
	}
}
