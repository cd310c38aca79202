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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantlake/etfdata/common"
	"github.com/quantlake/etfdata/data/database"
	"github.com/quantlake/etfdata/observability/opentelemetry"
	"github.com/quantlake/etfdata/router"

	"github.com/go-co-op/gocron"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	if err := viper.BindEnv("server.port", "PORT"); err != nil {
		log.Error().Err(err).Msg("could not bind env var")
	}
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run the query API on")
	if err := viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	if err := viper.BindEnv("server.api_token", "API_AUTH_TOKEN"); err != nil {
		log.Error().Err(err).Msg("could not bind env var")
	}
	serveCmd.Flags().String("api-token", "", "Static API token clients must send in X-Api-Token; empty disables auth")
	if err := viper.BindPFlag("server.api_token", serveCmd.Flags().Lookup("api-token")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	serveCmd.Flags().String("cors-origins", "*", "Comma separated list of allowed CORS origins")
	if err := viper.BindPFlag("server.cors_origins", serveCmd.Flags().Lookup("cors-origins")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	serveCmd.Flags().Bool("daily-update", false, "Run the daily warehouse update on a schedule while serving")
	if err := viper.BindPFlag("server.daily_update", serveCmd.Flags().Lookup("daily-update")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	serveCmd.Flags().String("daily-update-at", "18:30", "Local (America/New_York) time of day to run the daily update")
	if err := viper.BindPFlag("server.daily_update_at", serveCmd.Flags().Lookup("daily-update-at")); err != nil {
		log.Error().Err(err).Msg("could not bind flag")
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ETF query API server",
	Long:  `Run the HTTP server that answers periodic return, performance, stats and industry queries`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()
		opentelemetry.Setup()
		ctx := context.Background()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		app := fiber.New()

		// shutdown cleanly on interrupt
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-quit
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Fatal().Err(err).Msg("could not shutdown server")
			}
		}()

		app.Use(cors.New(cors.Config{
			AllowOrigins: viper.GetString("server.cors_origins"),
			AllowHeaders: "*",
			AllowMethods: "GET,HEAD",
		}))

		router.SetupRoutes(app)

		if viper.GetBool("server.daily_update") {
			scheduler := gocron.NewScheduler(common.GetTimezone())
			if _, err := scheduler.Every(1).Day().At(viper.GetString("server.daily_update_at")).Do(func() {
				if err := runDailyUpdate(ctx); err != nil {
					log.Error().Err(err).Msg("scheduled daily update failed")
				}
			}); err != nil {
				log.Fatal().Err(err).Msg("could not schedule daily update")
			}
			scheduler.StartAsync()
		}

		if err := app.Listen(":" + viper.GetString("server.port")); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	},
}
