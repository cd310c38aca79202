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

package eodhd

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// usExchangeAliases collapse the various US venue names onto the single
// ".US" suffix EODHD uses for quote endpoints
var usExchangeAliases = map[string]string{
	"NASDAQ":        "US",
	"NYSE":          "US",
	"AMEX":          "US",
	"US":            "US",
	"NYSE ARCA":     "US",
	"ARCA":          "US",
	"NYSEAMERICAN":  "US",
	"NYSE AMERICAN": "US",
	"NYSE MKT":      "US",
}

// NormalizeSymbol appends an exchange suffix to a bare ticker code. Codes
// that already carry a suffix pass through unchanged.
func NormalizeSymbol(code, exchange string) string {
	if strings.Contains(code, ".") {
		return code
	}

	exchangeKey := strings.ToUpper(strings.TrimSpace(exchange))
	suffix, ok := usExchangeAliases[exchangeKey]
	if !ok {
		suffix = strings.ReplaceAll(exchangeKey, " ", "")
	}
	return code + "." + suffix
}

// CanonicalSymbol derives the warehouse symbol from a fundamentals payload,
// preferring the suffixed PrimaryTicker, then a suffixed request symbol,
// then composing code + exchange suffix
func CanonicalSymbol(requestSymbol string, general *General) string {
	if general != nil && strings.Contains(general.PrimaryTicker, ".") {
		return general.PrimaryTicker
	}
	if strings.Contains(requestSymbol, ".") {
		return requestSymbol
	}

	base := ""
	exchange := ""
	if general != nil {
		base = general.PrimaryTicker
		if base == "" {
			base = general.Code
		}
		exchange = general.Exchange
	}
	if base == "" {
		base = requestSymbol
	}

	suffix := "US"
	if exchange != "" {
		ex := strings.ToUpper(exchange)
		if _, ok := usExchangeAliases[ex]; !ok {
			suffix = ex
		}
	}
	if base == "" {
		return "UNKNOWN." + suffix
	}
	return base + "." + suffix
}

// ParseSplitRatio converts EODHD split ratio strings like "4:1" or "1/2"
// into a decimal multiplier. The second return is false when the value
// cannot be parsed.
func ParseSplitRatio(raw string) (decimal.Decimal, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return decimal.Zero, false
	}

	for _, sep := range []string{":", "/", " "} {
		if !strings.Contains(text, sep) {
			continue
		}
		parts := make([]string, 0, 2)
		for _, part := range strings.Split(text, sep) {
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) != 2 {
			return decimal.Zero, false
		}
		numerator, err := decimal.NewFromString(parts[0])
		if err != nil {
			log.Warn().Str("Ratio", raw).Msg("could not parse split ratio numerator")
			return decimal.Zero, false
		}
		denominator, err := decimal.NewFromString(parts[1])
		if err != nil {
			log.Warn().Str("Ratio", raw).Msg("could not parse split ratio denominator")
			return decimal.Zero, false
		}
		if denominator.IsZero() {
			return decimal.Zero, false
		}
		return numerator.Div(denominator), true
	}

	value, err := decimal.NewFromString(text)
	if err != nil {
		log.Warn().Str("Ratio", raw).Msg("could not parse split ratio")
		return decimal.Zero, false
	}
	return value, true
}

// DeriveShares extracts outstanding and float share counts from a
// fundamentals payload. SharesStats wins; otherwise the newest annual or
// quarterly outstandingShares entry is used, and float falls back to
// outstanding when no dedicated value exists.
func DeriveShares(fundamentals *Fundamentals) (outstanding *float64, sharesFloat *float64) {
	outstanding = positiveOrNil(fundamentals.SharesStats.SharesOutstanding)
	sharesFloat = positiveOrNil(fundamentals.SharesStats.SharesFloat)

	if outstanding == nil {
		latest := latestSharesRecord(fundamentals.OutstandingShares.Annual)
		if latest == nil {
			latest = latestSharesRecord(fundamentals.OutstandingShares.Quarterly)
		}
		if latest != nil {
			outstanding = positiveOrNil(latest.Shares)
		}
	}

	if sharesFloat == nil {
		sharesFloat = outstanding
	}
	return outstanding, sharesFloat
}

func latestSharesRecord(collection map[string]*SharesRecord) *SharesRecord {
	var latest *SharesRecord
	for _, record := range collection {
		if record == nil || record.Shares == nil || *record.Shares == 0 {
			continue
		}
		if latest == nil || record.Date > latest.Date {
			latest = record
		}
	}
	return latest
}

func positiveOrNil(val *float64) *float64 {
	if val == nil || *val == 0 {
		return nil
	}
	return val
}

// SectorIndustry picks the sector/industry labels from a fundamentals
// General block, falling back to the GIC classification
func SectorIndustry(general *General) (sector, industry string) {
	sector = strings.TrimSpace(general.Sector)
	if sector == "" {
		sector = strings.TrimSpace(general.GicSector)
	}
	industry = strings.TrimSpace(general.Industry)
	if industry == "" {
		industry = strings.TrimSpace(general.GicIndustry)
	}
	return sector, industry
}
