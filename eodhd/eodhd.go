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

// Package eodhd is a small client for the EODHD market data API. Requests
// are retried with jittered exponential backoff and honor Retry-After on
// rate-limit responses.
package eodhd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const baseURL = "https://eodhd.com/api"

const (
	maxAttempts    = 5
	maxBackoff     = 8 * time.Second
	defaultTimeout = 30 * time.Second
)

var ErrRequestFailed = errors.New("request failed")

type Client struct {
	token   string
	timeout time.Duration

	// sleep is replaceable so tests do not wait out real backoff delays
	sleep func(d time.Duration)
}

func New(token string) *Client {
	return &Client{
		token:   token,
		timeout: defaultTimeout,
		sleep:   time.Sleep,
	}
}

// EodQuote is one end-of-day bar. Fields are pointers because the API
// returns null for halted or unpriced days.
type EodQuote struct {
	Date          string   `json:"date"`
	Open          *float64 `json:"open"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	Close         *float64 `json:"close"`
	AdjustedClose *float64 `json:"adjusted_close"`
	Volume        *int64   `json:"volume"`
}

// BulkQuote is one row of the bulk last-day endpoint
type BulkQuote struct {
	Code              string   `json:"code"`
	ExchangeShortName string   `json:"exchange_short_name"`
	Date              string   `json:"date"`
	Open              *float64 `json:"open"`
	High              *float64 `json:"high"`
	Low               *float64 `json:"low"`
	Close             *float64 `json:"close"`
	AdjustedClose     *float64 `json:"adjusted_close"`
	Volume            *int64   `json:"volume"`
}

type Dividend struct {
	Date     string   `json:"date"`
	Value    *float64 `json:"value"`
	Currency string   `json:"currency"`
}

// Split carries the raw ratio string; use ParseSplitRatio to interpret it
type Split struct {
	Date  string `json:"date"`
	Ratio string `json:"split"`
}

type SymbolListing struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Exchange string `json:"Exchange"`
	Type     string `json:"Type"`
}

type General struct {
	Code          string `json:"Code"`
	Name          string `json:"Name"`
	Exchange      string `json:"Exchange"`
	Type          string `json:"Type"`
	Sector        string `json:"Sector"`
	Industry      string `json:"Industry"`
	GicSector     string `json:"GicSector"`
	GicIndustry   string `json:"GicIndustry"`
	PrimaryTicker string `json:"PrimaryTicker"`
	FiscalYearEnd string `json:"FiscalYearEnd"`
	UpdatedAt     string `json:"UpdatedAt"`
}

type Highlights struct {
	MarketCapitalization *float64 `json:"MarketCapitalization"`
	PERatio              *float64 `json:"PERatio"`
	DividendYield        *float64 `json:"DividendYield"`
	DividendShare        *float64 `json:"DividendShare"`
}

type Valuation struct {
	PriceBookMRQ  *float64 `json:"PriceBookMRQ"`
	PriceSalesTTM *float64 `json:"PriceSalesTTM"`
}

type SharesStats struct {
	SharesOutstanding *float64 `json:"SharesOutstanding"`
	SharesFloat       *float64 `json:"SharesFloat"`
}

type SharesRecord struct {
	Date      string   `json:"date"`
	Shares    *float64 `json:"shares"`
	SharesMln string   `json:"sharesMln"`
}

type OutstandingShares struct {
	Annual    map[string]*SharesRecord `json:"annual"`
	Quarterly map[string]*SharesRecord `json:"quarterly"`
}

// Fundamentals is the subset of the fundamentals payload the warehouse
// loads. Raw retains the full document for the staging table.
type Fundamentals struct {
	General           General           `json:"General"`
	Highlights        Highlights        `json:"Highlights"`
	Valuation         Valuation         `json:"Valuation"`
	SharesStats       SharesStats       `json:"SharesStats"`
	OutstandingShares OutstandingShares `json:"outstandingShares"`

	Raw []byte `json:"-"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.token)
	if params.Get("fmt") == "" {
		params.Set("fmt", "json")
	}
	requestURL := fmt.Sprintf("%s%s?%s", baseURL, path, params.Encode())

	subLog := log.With().Str("Path", path).Logger()

	var lastStatus int
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt))
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
		if err != nil {
			cancel()
			return nil, err
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			subLog.Warn().Err(err).Int("Attempt", attempt+1).Msg("request failed; retrying")
			lastStatus = 0
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			subLog.Warn().Err(readErr).Int("Attempt", attempt+1).Msg("could not read response body; retrying")
			lastStatus = resp.StatusCode
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			subLog.Warn().Dur("RetryAfter", wait).Msg("rate limited; waiting before retry")
			c.sleep(wait)
			lastStatus = resp.StatusCode
		case resp.StatusCode >= 500:
			subLog.Warn().Int("StatusCode", resp.StatusCode).Int("Attempt", attempt+1).Msg("server error; retrying")
			lastStatus = resp.StatusCode
		default:
			return nil, fmt.Errorf("%w: %s returned status %d", ErrRequestFailed, path, resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("%w: %s exhausted %d attempts (last status %d)", ErrRequestFailed, path, maxAttempts, lastStatus)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	// full jitter
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return time.Second
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

// Quotes fetches end-of-day bars for symbol over [from, to]
func (c *Client) Quotes(ctx context.Context, symbol, from, to string) ([]*EodQuote, error) {
	body, err := c.get(ctx, "/eod/"+symbol, url.Values{"from": {from}, "to": {to}})
	if err != nil {
		return nil, err
	}
	var quotes []*EodQuote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// BulkLastDay fetches the full-exchange end-of-day snapshot. date may be
// empty for the latest completed session.
func (c *Client) BulkLastDay(ctx context.Context, exchange, date string) ([]*BulkQuote, error) {
	params := url.Values{}
	if date != "" {
		params.Set("date", date)
	}
	body, err := c.get(ctx, "/eod-bulk-last-day/"+exchange, params)
	if err != nil {
		return nil, err
	}
	var quotes []*BulkQuote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// Dividends fetches cash dividend events for symbol over [from, to]
func (c *Client) Dividends(ctx context.Context, symbol, from, to string) ([]*Dividend, error) {
	body, err := c.get(ctx, "/div/"+symbol, url.Values{"from": {from}, "to": {to}})
	if err != nil {
		return nil, err
	}
	var dividends []*Dividend
	if err := json.Unmarshal(body, &dividends); err != nil {
		return nil, err
	}
	return dividends, nil
}

// Splits fetches split events for symbol over [from, to]
func (c *Client) Splits(ctx context.Context, symbol, from, to string) ([]*Split, error) {
	body, err := c.get(ctx, "/splits/"+symbol, url.Values{"from": {from}, "to": {to}})
	if err != nil {
		return nil, err
	}
	var splits []*Split
	if err := json.Unmarshal(body, &splits); err != nil {
		return nil, err
	}
	return splits, nil
}

// Fundamentals fetches the fundamentals document for symbol, retaining the
// raw payload alongside the decoded fields
func (c *Client) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	body, err := c.get(ctx, "/fundamentals/"+symbol, nil)
	if err != nil {
		return nil, err
	}
	fundamentals := &Fundamentals{}
	if err := json.Unmarshal(body, fundamentals); err != nil {
		return nil, err
	}
	fundamentals.Raw = body
	return fundamentals, nil
}

// ExchangeSymbols lists the stock and ETF tickers of an exchange,
// de-duplicated and normalized to SYMBOL.SUFFIX form
func (c *Client) ExchangeSymbols(ctx context.Context, exchange string) ([]string, error) {
	symbols := make([]string, 0, 1000)
	seen := make(map[string]bool)
	for _, assetKind := range []string{"stock", "etf"} {
		body, err := c.get(ctx, "/exchange-symbol-list/"+exchange, url.Values{"type": {assetKind}})
		if err != nil {
			return nil, err
		}
		var listings []*SymbolListing
		if err := json.Unmarshal(body, &listings); err != nil {
			return nil, err
		}
		for _, listing := range listings {
			if listing.Code == "" {
				continue
			}
			ex := listing.Exchange
			if ex == "" {
				ex = exchange
			}
			normalized := NormalizeSymbol(listing.Code, ex)
			if !seen[normalized] {
				seen[normalized] = true
				symbols = append(symbols, normalized)
			}
		}
	}
	return symbols, nil
}
