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

import "errors"

var (
	// ErrDataGap indicates a basket symbol has no price observation in the
	// requested range. The computation fails rather than substituting zero.
	ErrDataGap = errors.New("no price data available for symbol in range")

	// ErrNoTradingDays indicates the aligned date set is empty
	ErrNoTradingDays = errors.New("no trading days in range")

	// ErrInternalInconsistency indicates the forward-fill invariant was
	// violated. This is a bug, never expected in correct operation.
	ErrInternalInconsistency = errors.New("forward-fill invariant violated")

	// ErrInvalidWindow indicates end <= start or a non-positive boundary
	// price where a ratio is required
	ErrInvalidWindow = errors.New("invalid computation window")

	// ErrUnknownPortfolio indicates a requested portfolio key has no definition
	ErrUnknownPortfolio = errors.New("unknown portfolio key")
)
