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

package eodhd_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/quantlake/etfdata/eodhd"
	"github.com/shopspring/decimal"
)

var _ = Describe("Split ratio parsing", func() {
	DescribeTable("parses ratio strings",
		func(raw string, expected string, ok bool) {
			ratio, parsed := eodhd.ParseSplitRatio(raw)
			Expect(parsed).To(Equal(ok))
			if ok {
				Expect(ratio.Equal(decimal.RequireFromString(expected))).To(BeTrue(), ratio.String())
			}
		},
		Entry("colon separated", "4:1", "4", true),
		Entry("slash separated", "1/2", "0.5", true),
		Entry("space separated", "3 1", "3", true),
		Entry("plain number", "0.25", "0.25", true),
		Entry("fractional parts", "1.5:1", "1.5", true),
		Entry("empty string", "", "", false),
		Entry("whitespace only", "   ", "", false),
		Entry("garbage", "abc", "", false),
		Entry("zero denominator", "4:0", "", false),
		Entry("too many parts", "1:2:3", "", false),
	)
})

var _ = Describe("Symbol normalization", func() {
	DescribeTable("appends the right suffix",
		func(code, exchange, expected string) {
			Expect(eodhd.NormalizeSymbol(code, exchange)).To(Equal(expected))
		},
		Entry("already suffixed", "AAPL.US", "NASDAQ", "AAPL.US"),
		Entry("nasdaq alias", "AAPL", "NASDAQ", "AAPL.US"),
		Entry("arca alias", "SPY", "NYSE ARCA", "SPY.US"),
		Entry("foreign exchange", "SAP", "XETRA", "SAP.XETRA"),
		Entry("exchange with spaces", "ABC", "SOME VENUE", "ABC.SOMEVENUE"),
	)

	It("prefers a suffixed primary ticker", func() {
		general := &eodhd.General{PrimaryTicker: "VTI.US", Code: "VTI", Exchange: "NYSE ARCA"}
		Expect(eodhd.CanonicalSymbol("VTI", general)).To(Equal("VTI.US"))
	})

	It("keeps a suffixed request symbol when the primary ticker is bare", func() {
		general := &eodhd.General{PrimaryTicker: "VTI", Exchange: "NYSE ARCA"}
		Expect(eodhd.CanonicalSymbol("VTI.US", general)).To(Equal("VTI.US"))
	})

	It("composes code and exchange when nothing is suffixed", func() {
		general := &eodhd.General{Code: "SAP", Exchange: "XETRA"}
		Expect(eodhd.CanonicalSymbol("SAP", general)).To(Equal("SAP.XETRA"))
	})

	It("falls back to UNKNOWN when no code exists", func() {
		Expect(eodhd.CanonicalSymbol("", &eodhd.General{})).To(Equal("UNKNOWN.US"))
	})
})

var _ = Describe("Share derivation", func() {
	It("prefers SharesStats values", func() {
		outstanding := 1000.0
		sharesFloat := 900.0
		fundamentals := &eodhd.Fundamentals{
			SharesStats: eodhd.SharesStats{SharesOutstanding: &outstanding, SharesFloat: &sharesFloat},
		}
		out, flt := eodhd.DeriveShares(fundamentals)
		Expect(*out).To(Equal(1000.0))
		Expect(*flt).To(Equal(900.0))
	})

	It("falls back to the newest outstanding shares entry", func() {
		older := 800.0
		newer := 950.0
		fundamentals := &eodhd.Fundamentals{
			OutstandingShares: eodhd.OutstandingShares{
				Annual: map[string]*eodhd.SharesRecord{
					"0": {Date: "2020", Shares: &older},
					"1": {Date: "2021", Shares: &newer},
				},
			},
		}
		out, flt := eodhd.DeriveShares(fundamentals)
		Expect(*out).To(Equal(950.0))
		Expect(*flt).To(Equal(950.0), "float falls back to outstanding")
	})

	It("returns nil when nothing is available", func() {
		out, flt := eodhd.DeriveShares(&eodhd.Fundamentals{})
		Expect(out).To(BeNil())
		Expect(flt).To(BeNil())
	})
})
