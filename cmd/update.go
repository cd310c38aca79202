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

package cmd

import (
	"context"
	"time"

	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/eodhd"
	"github.com/quantlake/etfdata/etl"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// refreshLookbackDays is how far back the daily mart refresh recomputes rows.
// A window larger than one day lets late corrections from the provider flow
// through on the next run.
const refreshLookbackDays = 7

func init() {
	updateCmd.Flags().StringSlice("exchanges", []string{"US"}, "Exchanges to update")
	if err := viper.BindPFlag("update.exchanges", updateCmd.Flags().Lookup("exchanges")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	updateCmd.Flags().String("date", "", "Trading date to load (YYYY-MM-DD, default latest)")
	if err := viper.BindPFlag("update.date", updateCmd.Flags().Lookup("date")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Load the latest end-of-day quotes and refresh the marts",
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx := context.Background()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		if err := runDailyUpdate(ctx); err != nil {
			log.Fatal().Err(err).Msg("daily update failed")
		}
	},
}

// runDailyUpdate loads the latest bulk quotes for each configured exchange,
// refreshes the derived marts for the affected symbols and reports data
// quality metrics
func runDailyUpdate(ctx context.Context) error {
	runLog := log.With().Str("RunID", uuid.New().String()).Logger()

	client := eodhd.New(viper.GetString("eodhd.token"))
	loader := etl.NewLoader()

	endDate := time.Now().UTC()
	startDate := endDate.AddDate(0, 0, -refreshLookbackDays)

	for _, exchange := range viper.GetStringSlice("update.exchanges") {
		subLog := runLog.With().Str("Exchange", exchange).Logger()

		bulk, err := client.BulkLastDay(ctx, exchange, viper.GetString("update.date"))
		if err != nil {
			subLog.Error().Err(err).Msg("could not load bulk quotes")
			return err
		}

		symbols := make([]string, 0, len(bulk))
		for _, quote := range bulk {
			symbol := eodhd.NormalizeSymbol(quote.Code, quote.ExchangeShortName)
			bar := &eodhd.EodQuote{
				Date:          quote.Date,
				Open:          quote.Open,
				High:          quote.High,
				Low:           quote.Low,
				Close:         quote.Close,
				AdjustedClose: quote.AdjustedClose,
				Volume:        quote.Volume,
			}
			if err := loader.UpsertQuotes(ctx, symbol, []*eodhd.EodQuote{bar}); err != nil {
				subLog.Error().Err(err).Str("Symbol", symbol).Msg("could not upsert bulk quote")
				return err
			}
			symbols = append(symbols, symbol)
		}

		if len(symbols) == 0 {
			subLog.Warn().Msg("bulk endpoint returned no quotes")
			continue
		}

		if err := loader.RefreshDailyMart(ctx, symbols, startDate, endDate); err != nil {
			return err
		}
		if err := loader.RefreshPeriodicReturns(ctx, symbols, startDate, endDate); err != nil {
			return err
		}

		metrics, err := loader.CheckNullMetrics(ctx, startDate, endDate)
		if err != nil {
			return err
		}
		subLog.Info().Int("Symbols", len(symbols)).Int64("Rows", metrics.TotalRows).
			Msg("daily update complete")
	}

	return nil
}
