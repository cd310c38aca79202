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
	"fmt"
	"os"

	"github.com/quantlake/etfdata/pkginfo"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Database
	if err := viper.BindEnv("database.url", "DATABASE_URL"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	if err := viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// EODHD provider
	if err := viper.BindEnv("eodhd.token", "EODHD_API_TOKEN"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("eodhd-token", "", "EODHD API token")
	if err := viper.BindPFlag("eodhd.token", rootCmd.PersistentFlags().Lookup("eodhd-token")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Logging configuration
	if err := viper.BindEnv("log.level", "ETFDATA_LOG_LEVEL"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level")
	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	if err := viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	if err := viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable format")
	if err := viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	viper.SetDefault("cache.local_size", 1000)
	viper.SetDefault("cache.ttl", 3600)
	viper.SetDefault("monitor.max_null_turnover_ratio", 0.2)
}

var rootCmd = &cobra.Command{
	Use:     "etfdata",
	Version: pkginfo.Version,
	Short:   "etfdata maintains an ETF market data warehouse",
	Long: `etfdata ingests end-of-day quotes, corporate actions and fundamentals
into a PostgreSQL warehouse, derives daily and periodic analytics, and serves
them over a query API. It also ships batch tools for ranking ETFs by trailing
performance and backtesting equal-weighted portfolios.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
