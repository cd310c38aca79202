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

package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// TokenAuth checks the X-Api-Token header against server.api_token. When no
// token is configured the API is open, which matches the intended deployment
// behind a private network.
func TokenAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := viper.GetString("server.api_token")
		if expected == "" {
			return c.Next()
		}

		provided := c.Get("X-Api-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			log.Warn().Str("IP", c.IP()).Str("Path", c.Path()).Msg("rejected request with bad api token")
			return fiber.ErrUnauthorized
		}
		return c.Next()
	}
}
