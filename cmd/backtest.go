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
	"fmt"
	"os"
	"time"

	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/portfolio"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backtestStartDate    string
	backtestEndDate      string
	backtestPortfolios   []string
	backtestRiskFreeRate float64
	backtestDefinitions  string
	backtestSummaryCSV   string
	backtestNavCSV       string
)

func init() {
	backtestCmd.Flags().StringVar(&backtestStartDate, "start-date", "2020-11-03", "Backtest start date (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&backtestEndDate, "end-date", "2025-11-03", "Backtest end date (YYYY-MM-DD)")
	backtestCmd.Flags().StringSliceVar(&backtestPortfolios, "portfolios", nil, "Portfolio keys to run (default all defined)")
	backtestCmd.Flags().Float64Var(&backtestRiskFreeRate, "risk-free-rate", 0.0, "Annualized risk free rate used for Sharpe and Calmar")
	backtestCmd.Flags().StringVar(&backtestDefinitions, "definitions", "", "TOML file with portfolio definitions (default built-in baskets)")
	backtestCmd.Flags().StringVar(&backtestSummaryCSV, "summary-csv", "", "Write the per-portfolio summary to this CSV file")
	backtestCmd.Flags().StringVar(&backtestNavCSV, "nav-csv", "", "Append per-day NAV detail for every portfolio to this CSV file")

	rootCmd.AddCommand(backtestCmd)
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest equal-weighted ETF portfolios",
	Long: `Backtest builds an equal-weighted, no-rebalance NAV series for each
portfolio over the requested window and prints cumulative and annualized
return, volatility, maximum drawdown, Sharpe and Calmar.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx := context.Background()

		startDate, err := time.Parse("2006-01-02", backtestStartDate)
		if err != nil {
			log.Fatal().Err(err).Str("StartDate", backtestStartDate).Msg("could not parse start date")
		}
		endDate, err := time.Parse("2006-01-02", backtestEndDate)
		if err != nil {
			log.Fatal().Err(err).Str("EndDate", backtestEndDate).Msg("could not parse end date")
		}

		defs := portfolio.DefaultDefinitions()
		if backtestDefinitions != "" {
			defs, err = portfolio.LoadDefinitions(backtestDefinitions)
			if err != nil {
				log.Fatal().Err(err).Str("FileName", backtestDefinitions).Msg("could not load portfolio definitions")
			}
		}
		if len(backtestPortfolios) > 0 {
			defs, err = portfolio.SelectDefinitions(defs, backtestPortfolios)
			if err != nil {
				log.Fatal().Err(err).Msg("unknown portfolio key")
			}
		}

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		store := data.NewStore()
		prices, err := store.GetAdjustedCloses(ctx, portfolio.AllSymbols(defs), startDate, endDate)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load adjusted closes")
		}

		summaries := make([]*portfolio.Summary, 0, len(defs))
		for _, def := range defs {
			series, err := portfolio.BuildSeries(def.Symbols, prices, startDate, endDate)
			if err != nil {
				log.Error().Err(err).Str("Portfolio", def.Key).Msg("could not build NAV series; skipping")
				continue
			}

			summaries = append(summaries, portfolio.Summarize(def, series, backtestRiskFreeRate))

			if backtestNavCSV != "" {
				if err := portfolio.WriteNavCSV(backtestNavCSV, def.Key, series); err != nil {
					log.Fatal().Err(err).Str("FileName", backtestNavCSV).Msg("could not write NAV detail")
				}
			}
		}

		if len(summaries) == 0 {
			log.Fatal().Msg("no portfolio produced a NAV series")
		}

		printSummaryTable(summaries)

		if backtestSummaryCSV != "" {
			if err := portfolio.WriteSummaryCSV(backtestSummaryCSV, summaries); err != nil {
				log.Fatal().Err(err).Str("FileName", backtestSummaryCSV).Msg("could not write summary")
			}
		}
	},
}

func printSummaryTable(summaries []*portfolio.Summary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Portfolio", "Start", "End", "Days", "Cum Return",
		"Ann Return", "Ann Vol", "Max DD", "Sharpe", "Calmar"})
	table.SetBorder(false)

	for _, summary := range summaries {
		table.Append([]string{
			summary.Key,
			summary.StartDate.Format("2006-01-02"),
			summary.EndDate.Format("2006-01-02"),
			fmt.Sprintf("%d", summary.TradingDays),
			formatPct(summary.CumulativeReturn),
			formatPct(summary.AnnualizedReturn),
			formatPct(summary.AnnualizedVolatility),
			formatPct(summary.MaxDrawdown),
			formatRatio(summary.SharpeRatio),
			formatRatio(summary.CalmarRatio),
		})
	}

	table.Render()
}

func formatPct(val float64) string {
	return fmt.Sprintf("%.2f%%", val*100)
}

func formatRatio(val *float64) string {
	if val == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *val)
}
