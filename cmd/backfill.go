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
	"os/signal"
	"syscall"
	"time"

	"github.com/quantlake/etfdata/backfill"
	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/eodhd"
	"github.com/quantlake/etfdata/etl"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	backfillExchanges     []string
	backfillStartDate     string
	backfillEndDate       string
	backfillProgressFile  string
	backfillMaxErrors     int
	backfillRetryFailed   bool
	backfillResetProgress bool
	backfillPause         time.Duration
)

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillExchanges, "exchanges", []string{"NYSE", "NASDAQ"}, "Exchanges to backfill")
	backfillCmd.Flags().StringVar(&backfillStartDate, "start-date", "2000-01-01", "History start date (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillEndDate, "end-date", "", "History end date (YYYY-MM-DD, default today)")
	backfillCmd.Flags().StringVar(&backfillProgressFile, "progress-file", "state/backfill_progress.json", "Resume state file")
	backfillCmd.Flags().IntVar(&backfillMaxErrors, "max-errors", backfill.DefaultMaxErrors, "Abort after this many failed symbols per exchange")
	backfillCmd.Flags().BoolVar(&backfillRetryFailed, "retry-failed", false, "Give previously failed symbols one more attempt")
	backfillCmd.Flags().BoolVar(&backfillResetProgress, "reset-progress", false, "Discard saved progress and start over")
	backfillCmd.Flags().DurationVar(&backfillPause, "pause", 200*time.Millisecond, "Delay between symbols to stay under the provider rate limit")

	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load full price and fundamentals history for each exchange",
	Long: `Backfill walks every symbol of the configured exchanges, loading quotes,
dividends, splits and fundamentals. Progress is checkpointed to a JSON file so
an interrupted run resumes where it stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		startDate, err := time.Parse("2006-01-02", backfillStartDate)
		if err != nil {
			log.Fatal().Err(err).Str("StartDate", backfillStartDate).Msg("could not parse start date")
		}

		endDate := time.Now().UTC()
		if backfillEndDate != "" {
			endDate, err = time.Parse("2006-01-02", backfillEndDate)
			if err != nil {
				log.Fatal().Err(err).Str("EndDate", backfillEndDate).Msg("could not parse end date")
			}
		}

		progress := backfill.LoadProgress(backfillProgressFile)
		if backfillResetProgress {
			progress.Reset()
		}

		client := eodhd.New(viper.GetString("eodhd.token"))
		runner := backfill.NewRunner(client, etl.NewLoader(), progress, startDate, endDate)
		runner.MaxErrors = backfillMaxErrors
		runner.RetryFailed = backfillRetryFailed
		runner.Pause = backfillPause

		if err := runner.Run(ctx, backfillExchanges); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("backfill interrupted; progress saved")
				return
			}
			log.Fatal().Err(err).Msg("backfill failed")
		}
	},
}
