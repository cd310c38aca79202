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
	"path/filepath"

	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/rankings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rankingsTop        int
	rankingsTop5y      int
	rankingsTop10y     int
	rankingsFudgeDays  int
	rankingsMinHistory int
	rankingsCSVDir     string
)

func init() {
	rankingsCmd.Flags().IntVar(&rankingsTop, "top", 10, "Leaderboard size for both windows")
	rankingsCmd.Flags().IntVar(&rankingsTop5y, "top-5y", 0, "Override leaderboard size for the 5 year window")
	rankingsCmd.Flags().IntVar(&rankingsTop10y, "top-10y", 0, "Override leaderboard size for the 10 year window")
	rankingsCmd.Flags().IntVar(&rankingsFudgeDays, "fudge-days", 7, "Calendar slack applied to the window boundary checks")
	rankingsCmd.Flags().IntVar(&rankingsMinHistory, "min-history-years", 10, "Minimum listing history required for eligibility")
	rankingsCmd.Flags().StringVar(&rankingsCSVDir, "csv-dir", "", "Directory to write etf_rankings_5y.csv, etf_rankings_10y.csv and etf_rankings_overlap.csv")

	rootCmd.AddCommand(rankingsCmd)
}

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Rank ETFs by trailing 5 and 10 year total return",
	Long: `Rankings scores every eligible ETF over trailing 5 and 10 year windows,
prints both leaderboards and the symbols appearing on both, and optionally
writes the three CSV reports.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		ctx := context.Background()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		store := data.NewStore()
		reverseSplits, err := store.GetReverseSplits(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load reverse splits")
		}

		top5 := rankingsTop5y
		if top5 <= 0 {
			top5 = rankingsTop
		}
		top10 := rankingsTop10y
		if top10 <= 0 {
			top10 = rankingsTop
		}

		board5 := runWindow(ctx, store, reverseSplits, 5, top5)
		board10 := runWindow(ctx, store, reverseSplits, 10, top10)
		overlap := rankings.Overlap(board5, board10)

		printRankingTable("Trailing 5 years", board5)
		printRankingTable("Trailing 10 years", board10)
		fmt.Printf("\n%d symbols appear on both leaderboards\n", len(overlap))

		if rankingsCSVDir != "" {
			if err := os.MkdirAll(rankingsCSVDir, 0o755); err != nil {
				log.Fatal().Err(err).Str("Dir", rankingsCSVDir).Msg("could not create CSV directory")
			}
			if err := rankings.WriteRankingsCSV(filepath.Join(rankingsCSVDir, "etf_rankings_5y.csv"), board5); err != nil {
				log.Fatal().Err(err).Msg("could not write 5y rankings")
			}
			if err := rankings.WriteRankingsCSV(filepath.Join(rankingsCSVDir, "etf_rankings_10y.csv"), board10); err != nil {
				log.Fatal().Err(err).Msg("could not write 10y rankings")
			}
			if err := rankings.WriteOverlapCSV(filepath.Join(rankingsCSVDir, "etf_rankings_overlap.csv"), overlap); err != nil {
				log.Fatal().Err(err).Msg("could not write overlap report")
			}
		}
	},
}

func runWindow(ctx context.Context, store *data.Store, reverseSplits []*data.SplitEvent, windowYears, top int) []*rankings.Performance {
	candidates, err := store.GetRankingCandidates(ctx, windowYears)
	if err != nil {
		log.Fatal().Err(err).Int("WindowYears", windowYears).Msg("could not load ranking candidates")
	}

	board := rankings.Rank(candidates, reverseSplits, rankings.Options{
		WindowYears:      windowYears,
		FudgeDays:        rankingsFudgeDays,
		MinHistoryYears:  rankingsMinHistory,
		MinCoverageRatio: rankings.DefaultMinCoverageRatio,
	})
	return rankings.Top(board, top)
}

func printRankingTable(title string, board []*rankings.Performance) {
	fmt.Printf("\n%s\n", title)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rank", "Symbol", "Name", "Start", "End", "Total Return", "Annualized"})
	table.SetBorder(false)

	for idx, perf := range board {
		totalReturn, _ := perf.TotalReturn.Float64()
		annualized, _ := perf.AnnualizedReturn.Float64()
		table.Append([]string{
			fmt.Sprintf("%d", idx+1),
			perf.Symbol,
			perf.Name,
			perf.StartDate.Format("2006-01-02"),
			perf.EndDate.Format("2006-01-02"),
			formatPct(totalReturn),
			formatPct(annualized),
		})
	}

	table.Render()
}
