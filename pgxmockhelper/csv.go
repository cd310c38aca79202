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

package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog/log"
)

// CSVRows loads a test fixture CSV and converts it into pgxmock rows.
// Column types come from a name -> type map; supported conversions are
// "date" (2006-01-02), "float64" and "int". Unmapped columns stay strings,
// which is how numeric warehouse columns reach decimal.Decimal scanners.
type CSVRows struct {
	rows    [][]interface{}
	header  []string
	dateCol int
}

func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	rows := &CSVRows{
		dateCol: -1,
		rows:    make([][]interface{}, 0),
	}
	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read file")
	}

	lines := strings.Split(string(rawData), "\n")

	// header + trailing newline at minimum
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("input file does not have enough lines, need at least 2 (header + trailing new line)")
	}
	if lines[len(lines)-1] != "" {
		subLog.Panic().Msg("input file is missing a trailing new line")
	}

	headerRaw := lines[0]
	lines = lines[1 : len(lines)-1]
	rows.header = strings.Split(headerRaw, ",")

	for _, ll := range lines {
		cols := make([]interface{}, len(rows.header))
		parts := strings.Split(ll, ",")
		for idx, val := range parts {
			colName := rows.header[idx]
			if typeConv, ok := typeMap[colName]; ok {
				switch typeConv {
				case "date":
					parsed, err := time.Parse("2006-01-02", val)
					if err != nil {
						subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to datetime of format 2006-01-02")
					}
					cols[idx] = parsed
					rows.dateCol = idx
				case "float64":
					parsed, err := strconv.ParseFloat(val, 64)
					if err != nil {
						subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to float64")
					}
					cols[idx] = parsed
				case "int":
					parsed, err := strconv.Atoi(val)
					if err != nil {
						subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to int")
					}
					cols[idx] = parsed
				default:
					cols[idx] = val
				}
			} else {
				cols[idx] = val
			}
		}
		rows.rows = append(rows.rows, cols)
	}

	return rows
}

// Between keeps only the rows whose date column falls in [a, b]
func (csvRows *CSVRows) Between(a time.Time, b time.Time) *CSVRows {
	newRows := make([][]interface{}, 0, len(csvRows.rows))
	if len(csvRows.rows) == 0 {
		return csvRows
	}
	if csvRows.dateCol == -1 {
		log.Panic().Time("a", a).Time("b", b).Msg("no date column found")
	}
	for _, row := range csvRows.rows {
		t := row[csvRows.dateCol].(time.Time)
		if (t.Before(b) || t.Equal(b)) && (t.After(a) || t.Equal(a)) {
			newRows = append(newRows, row)
		}
	}
	csvRows.rows = newRows
	return csvRows
}

// Symbols keeps only the rows whose named column matches one of the symbols
func (csvRows *CSVRows) Symbols(colName string, symbols []string) *CSVRows {
	colIdx := -1
	for idx, name := range csvRows.header {
		if name == colName {
			colIdx = idx
		}
	}
	if colIdx == -1 {
		log.Panic().Str("ColName", colName).Msg("no symbol column found")
	}

	keep := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		keep[symbol] = true
	}

	newRows := make([][]interface{}, 0, len(csvRows.rows))
	for _, row := range csvRows.rows {
		if keep[row[colIdx].(string)] {
			newRows = append(newRows, row)
		}
	}
	csvRows.rows = newRows
	return csvRows
}

func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// MockAdjustedCloses registers the daily quote query against the mock,
// returning the fixture rows for symbols between start and end
func MockAdjustedCloses(db pgxmock.PgxConnIface, fn string, symbols []string, start, end time.Time) {
	db.ExpectQuery("SELECT symbol, trade_date, adjusted_close").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"trade_date": "date",
		}).Symbols("symbol", symbols).Between(start, end).Rows())
}

// MockPeriodicReturns registers the periodic return query against the mock
func MockPeriodicReturns(db pgxmock.PgxConnIface, fn string) {
	db.ExpectQuery("SELECT period_key, period_start, period_end").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"period_start": "date",
			"period_end":   "date",
			"trading_days": "int",
		}).Rows())
}
