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

package portfolio

import (
	"encoding/csv"
	"os"
	"strconv"
)

const dateFormat = "2006-01-02"

// WriteSummaryCSV writes one row per basket summary. Absent Sharpe/Calmar
// values become empty cells, never zeros.
func WriteSummaryCSV(fn string, summaries []*Summary) error {
	fp, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fp.Close()

	writer := csv.NewWriter(fp)
	defer writer.Flush()

	header := []string{"key", "label", "start_date", "end_date", "trading_days",
		"cumulative_return", "annualized_return", "annualized_volatility",
		"max_drawdown", "max_drawdown_start", "max_drawdown_end",
		"sharpe_ratio", "calmar_ratio"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, summary := range summaries {
		row := []string{
			summary.Key,
			summary.Label,
			summary.StartDate.Format(dateFormat),
			summary.EndDate.Format(dateFormat),
			strconv.Itoa(summary.TradingDays),
			formatFloat(summary.CumulativeReturn),
			formatFloat(summary.AnnualizedReturn),
			formatFloat(summary.AnnualizedVolatility),
			formatFloat(summary.MaxDrawdown),
			summary.MaxDrawdownStart.Format(dateFormat),
			summary.MaxDrawdownEnd.Format(dateFormat),
			formatOptional(summary.SharpeRatio),
			formatOptional(summary.CalmarRatio),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}

// WriteNavCSV appends the NAV detail of one basket to fn, writing the
// header only when the file is created
func WriteNavCSV(fn string, portfolioKey string, series *Series) error {
	_, statErr := os.Stat(fn)
	writeHeader := os.IsNotExist(statErr)

	fp, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer fp.Close()

	writer := csv.NewWriter(fp)
	defer writer.Flush()

	if writeHeader {
		if err := writer.Write([]string{"portfolio", "trade_date", "nav", "daily_return", "drawdown"}); err != nil {
			return err
		}
	}

	for idx, point := range series.NavPoints {
		dailyReturn := ""
		if series.DailyReturns[idx] != nil {
			dailyReturn = series.DailyReturns[idx].String()
		}
		row := []string{
			portfolioKey,
			point.Date.Format(dateFormat),
			point.Nav.String(),
			dailyReturn,
			series.Drawdowns[idx].String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}

func formatOptional(val *float64) string {
	if val == nil {
		return ""
	}
	return formatFloat(*val)
}
