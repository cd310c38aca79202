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

package router

import (
	"github.com/quantlake/etfdata/handler"
	"github.com/quantlake/etfdata/middleware"

	"github.com/gofiber/fiber/v2"
)

// SetupRoutes registers the query API
func SetupRoutes(app *fiber.App) {
	app.Get("/healthz", handler.Ping)

	api := app.Group("/api", middleware.NewLogger(), middleware.TokenAuth())

	etfs := api.Group("/etfs")
	etfs.Get("/:symbol/returns", handler.GetEtfReturns)
	etfs.Get("/:symbol/performance", handler.GetEtfPerformance)
	etfs.Get("/:symbol/stats", handler.GetEtfStats)

	api.Get("/industries", handler.ListIndustries)
}
