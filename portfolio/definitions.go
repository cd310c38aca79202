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
	"fmt"
	"os"
	"sort"

	toml "github.com/pelletier/go-toml/v2"
)

// Definition names a fixed basket of symbols to backtest
type Definition struct {
	Key     string   `toml:"key"`
	Label   string   `toml:"label"`
	Symbols []string `toml:"symbols"`
}

type definitionFile struct {
	Portfolio []*Definition `toml:"portfolio"`
}

// DefaultDefinitions returns the built-in ranking baskets: the top 10 ETFs
// of the trailing 10-year and 5-year leaderboards
func DefaultDefinitions() []*Definition {
	return []*Definition{
		{
			Key:   "top10_10y",
			Label: "10-Year Top 10",
			Symbols: []string{
				"GBTC.US", "USD.US", "TECL.US", "SOXL.US", "TQQQ.US",
				"ROM.US", "QLD.US", "SMH.US", "SOXX.US", "SPXL.US",
			},
		},
		{
			Key:   "top10_5y",
			Label: "5-Year Top 10",
			Symbols: []string{
				"USD.US", "ERX.US", "DIG.US", "GBTC.US", "TECL.US",
				"URA.US", "GUSH.US", "SPXL.US", "FAS.US", "UPRO.US",
			},
		},
	}
}

// LoadDefinitions reads basket definitions from a TOML file of the form:
//
//	[[portfolio]]
//	key = "my_basket"
//	label = "My Basket"
//	symbols = ["VTI.US", "BND.US"]
func LoadDefinitions(fn string) ([]*Definition, error) {
	raw, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}

	var parsed definitionFile
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Portfolio) == 0 {
		return nil, fmt.Errorf("%w: %s defines no portfolios", ErrUnknownPortfolio, fn)
	}

	for _, def := range parsed.Portfolio {
		if def.Key == "" || len(def.Symbols) == 0 {
			return nil, fmt.Errorf("%w: each portfolio needs a key and at least one symbol", ErrUnknownPortfolio)
		}
		if def.Label == "" {
			def.Label = def.Key
		}
	}

	return parsed.Portfolio, nil
}

// SelectDefinitions filters defs down to the requested keys, preserving the
// order of keys. An empty key list selects everything.
func SelectDefinitions(defs []*Definition, keys []string) ([]*Definition, error) {
	if len(keys) == 0 {
		return defs, nil
	}

	byKey := make(map[string]*Definition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}

	selected := make([]*Definition, 0, len(keys))
	for _, key := range keys {
		def, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPortfolio, key)
		}
		selected = append(selected, def)
	}

	return selected, nil
}

// AllSymbols returns the de-duplicated sorted union of every basket's symbols
func AllSymbols(defs []*Definition) []string {
	seen := make(map[string]bool)
	symbols := make([]string, 0, 20)
	for _, def := range defs {
		for _, symbol := range def.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
	}
	sort.Strings(symbols)
	return symbols
}
