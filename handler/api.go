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

// Package handler implements the read-only HTTP query surface
package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/quantlake/etfdata/data"
)

type PingResponse struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message" example:"API is alive"`
	Time    string `json:"time" example:"2023-06-19T08:09:10.115924-05:00"`
}

func Ping(c *fiber.Ctx) error {
	now, _ := time.Now().MarshalText()
	return c.JSON(PingResponse{
		Status:  "success",
		Message: "API is alive",
		Time:    string(now),
	})
}

// apiError maps store errors onto HTTP statuses. Anything unrecognized is a
// 500 with no detail leaked to the caller.
func apiError(err error) error {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, data.ErrInvalidPeriodType),
		errors.Is(err, data.ErrInvalidInterval),
		errors.Is(err, data.ErrInvalidTimeRange),
		errors.Is(err, data.ErrBenchmarkConflict):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.ErrInternalServerError
}
