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

// Package backfill drives long-running historical loads with resumable,
// crash-safe progress tracking
package backfill

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// maxErrorLen caps stored failure messages so a single giant provider error
// cannot bloat the progress file
const maxErrorLen = 200

// SymbolFailure records why a symbol failed and how many times it was tried
type SymbolFailure struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// ExchangeProgress tracks the load position within one exchange's symbol list
type ExchangeProgress struct {
	Exchange   string                    `json:"exchange"`
	NextIndex  int                       `json:"next_index"`
	ErrorCount int                       `json:"error_count"`
	Failed     map[string]*SymbolFailure `json:"failed"`
	Start      string                    `json:"start"`
	End        string                    `json:"end"`
}

// RecordFailure notes a failed symbol, truncating the message to keep the
// progress file small
func (ep *ExchangeProgress) RecordFailure(symbol string, err error) {
	message := err.Error()
	if len(message) > maxErrorLen {
		message = message[:maxErrorLen]
	}
	failure, ok := ep.Failed[symbol]
	if !ok {
		failure = &SymbolFailure{}
		ep.Failed[symbol] = failure
	}
	failure.Attempts++
	failure.Error = message
	ep.ErrorCount++
}

// ClearFailure removes a symbol from the failed set after a successful retry
func (ep *ExchangeProgress) ClearFailure(symbol string) {
	delete(ep.Failed, symbol)
}

// Progress is the on-disk resume state for a backfill run
type Progress struct {
	Exchanges map[string]*ExchangeProgress `json:"exchanges"`
	UpdatedAt time.Time                    `json:"updated_at"`

	path string
}

// LoadProgress reads the progress file at fn. A missing or unreadable file
// yields fresh progress so a first run or a corrupted file never blocks the
// backfill.
func LoadProgress(fn string) *Progress {
	progress := &Progress{
		Exchanges: make(map[string]*ExchangeProgress),
		path:      fn,
	}

	raw, err := os.ReadFile(fn)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("FileName", fn).Msg("could not read progress file; starting fresh")
		}
		return progress
	}

	if err := json.Unmarshal(raw, progress); err != nil {
		log.Warn().Err(err).Str("FileName", fn).Msg("progress file is corrupt; starting fresh")
		progress.Exchanges = make(map[string]*ExchangeProgress)
		return progress
	}

	if progress.Exchanges == nil {
		progress.Exchanges = make(map[string]*ExchangeProgress)
	}
	return progress
}

// ForExchange returns the progress entry for an exchange, creating it on
// first use
func (p *Progress) ForExchange(exchange string) *ExchangeProgress {
	if entry, ok := p.Exchanges[exchange]; ok {
		if entry.Failed == nil {
			entry.Failed = make(map[string]*SymbolFailure)
		}
		return entry
	}
	entry := &ExchangeProgress{
		Exchange: exchange,
		Failed:   make(map[string]*SymbolFailure),
		Start:    time.Now().UTC().Format(time.RFC3339),
	}
	p.Exchanges[exchange] = entry
	return entry
}

// Reset discards all recorded progress
func (p *Progress) Reset() {
	p.Exchanges = make(map[string]*ExchangeProgress)
}

// Save writes the progress file atomically via a temp file and rename so a
// crash mid-write cannot corrupt the resume state
func (p *Progress) Save() error {
	p.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return err
	}
	return nil
}
