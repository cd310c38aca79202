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

package handler

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/quantlake/etfdata/data"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// uncategorizedLabel replaces empty sector/industry values in responses
const uncategorizedLabel = "Unclassified"

// IndustryMemberResponse is one security inside an industry group
type IndustryMemberResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// IndustryGroup buckets an industry's members by asset type
type IndustryGroup struct {
	Sector     string                    `json:"sector"`
	Industry   string                    `json:"industry"`
	Etfs       []*IndustryMemberResponse `json:"etfs,omitempty"`
	Stocks     []*IndustryMemberResponse `json:"stocks"`
	Others     []*IndustryMemberResponse `json:"others,omitempty"`
	StockCount int                       `json:"stockCount"`
}

// ListIndustries groups securities by sector and industry. Empty
// classifications fold into an Unclassified bucket unless skipUncategorized
// is set.
func ListIndustries(c *fiber.Ctx) error {
	sector := c.Query("sector")
	industry := c.Query("industry")
	includeEtfs := cast.ToBool(c.Query("includeEtfs", "true"))
	minStockCount := cast.ToInt(c.Query("minStockCount", "0"))
	skipUncategorized := cast.ToBool(c.Query("skipUncategorized", "false"))

	subLog := log.With().Str("Endpoint", "ListIndustries").Logger()

	store := data.NewStore()
	members, err := store.GetIndustryMembers(context.Background(), sector, industry, uncategorizedLabel)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not load industry members")
		return apiError(err)
	}

	groupIndex := make(map[string]*IndustryGroup)
	order := make([]string, 0)
	for _, member := range members {
		if skipUncategorized && (member.Sector == uncategorizedLabel || member.Industry == uncategorizedLabel) {
			continue
		}

		key := member.Sector + "\x00" + member.Industry
		group, ok := groupIndex[key]
		if !ok {
			group = &IndustryGroup{Sector: member.Sector, Industry: member.Industry}
			groupIndex[key] = group
			order = append(order, key)
		}

		entry := &IndustryMemberResponse{
			Symbol:   member.Symbol,
			Name:     member.Name,
			Exchange: member.Exchange,
		}
		switch classifyAssetType(member.AssetType) {
		case "etf":
			if includeEtfs {
				group.Etfs = append(group.Etfs, entry)
			}
		case "stock":
			group.Stocks = append(group.Stocks, entry)
			group.StockCount++
		default:
			group.Others = append(group.Others, entry)
		}
	}

	groups := make([]*IndustryGroup, 0, len(order))
	for _, key := range order {
		group := groupIndex[key]
		if group.StockCount < minStockCount {
			continue
		}
		if group.Stocks == nil {
			group.Stocks = []*IndustryMemberResponse{}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Sector != groups[j].Sector {
			return groups[i].Sector < groups[j].Sector
		}
		return groups[i].Industry < groups[j].Industry
	})

	return c.JSON(fiber.Map{
		"count":  len(groups),
		"groups": groups,
	})
}

func classifyAssetType(assetType string) string {
	normalized := strings.ToLower(assetType)
	switch {
	case strings.Contains(normalized, "etf") || strings.Contains(normalized, "fund"):
		return "etf"
	case strings.Contains(normalized, "stock") || strings.Contains(normalized, "share"):
		return "stock"
	}
	return "other"
}
