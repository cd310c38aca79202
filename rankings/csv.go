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

package rankings

import (
	"encoding/csv"
	"os"
	"strconv"
)

const dateFormat = "2006-01-02"

// WriteRankingsCSV writes one leaderboard with 1-based rank numbers
func WriteRankingsCSV(fn string, items []*Performance) error {
	fp, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fp.Close()

	writer := csv.NewWriter(fp)
	defer writer.Flush()

	header := []string{"rank", "symbol", "name", "start_date", "end_date",
		"holding_days", "total_return", "annualized_return"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for idx, perf := range items {
		row := []string{
			strconv.Itoa(idx + 1),
			perf.Symbol,
			perf.Name,
			perf.StartDate.Format(dateFormat),
			perf.EndDate.Format(dateFormat),
			strconv.Itoa(perf.HoldingDays),
			perf.TotalReturn.String(),
			perf.AnnualizedReturn.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}

// WriteOverlapCSV writes the intersection of the 5y and 10y leaderboards
func WriteOverlapCSV(fn string, records []*OverlapEntry) error {
	fp, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fp.Close()

	writer := csv.NewWriter(fp)
	defer writer.Flush()

	header := []string{"rank", "symbol", "name",
		"start_date_5y", "end_date_5y", "holding_days_5y", "total_return_5y", "annualized_return_5y",
		"start_date_10y", "end_date_10y", "holding_days_10y", "total_return_10y", "annualized_return_10y"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for idx, record := range records {
		row := []string{
			strconv.Itoa(idx + 1),
			record.Short.Symbol,
			record.Short.Name,
			record.Short.StartDate.Format(dateFormat),
			record.Short.EndDate.Format(dateFormat),
			strconv.Itoa(record.Short.HoldingDays),
			record.Short.TotalReturn.String(),
			record.Short.AnnualizedReturn.String(),
			record.Long.StartDate.Format(dateFormat),
			record.Long.EndDate.Format(dateFormat),
			strconv.Itoa(record.Long.HoldingDays),
			record.Long.TotalReturn.String(),
			record.Long.AnnualizedReturn.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}
