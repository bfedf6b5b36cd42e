//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package utils

import (
	"github.com/spf13/viper"
	"github.com/uber-go/tally"
	"github.com/uber/gpuscan/common"
)

// stores all common components together to avoid scattered references.
var (
	logger          common.Logger
	scanLogger      common.Logger
	reporterFactory *ReporterFactory
	config          common.GpuScanConfig
)

// init loads default implementations of common components for unit tests' purpose.
func init() {
	ResetDefaults()
}

// ResetDefaults reset default config, logger and metrics settings
func ResetDefaults() {
	logger = common.NewLoggerFactory().GetDefaultLogger()
	scanLogger = common.NewLoggerFactory().GetDefaultLogger()
	scope := tally.NewTestScope("test", nil)
	reporterFactory = NewReporterFactory(scope)

	BindEnvironments(viper.GetViper())
	viper.ReadInConfig()

	config = common.GpuScanConfig{}
	viper.Unmarshal(&config)
}

// Init loads application specific common components settings.
func Init(c common.GpuScanConfig, l common.Logger, sl common.Logger, s tally.Scope) {
	config = c
	logger = l
	scanLogger = sl
	reporterFactory = NewReporterFactory(s)
}

// GetLogger returns the logger.
func GetLogger() common.Logger {
	return logger
}

// GetScanLogger returns the logger for scan execution.
func GetScanLogger() common.Logger {
	return scanLogger
}

// GetRootReporter returns the root metrics reporter.
func GetRootReporter() *Reporter {
	return reporterFactory.GetRootReporter()
}

// GetReporter returns reporter given tableName. If the corresponding
// reporter cannot be found. It will return the root scope.
func GetReporter(tableName string) *Reporter {
	return reporterFactory.GetReporter(tableName)
}

// AddTableReporter adds a reporter for the given table. It should be
// called when the table becomes scannable on this node.
func AddTableReporter(tableName string) {
	reporterFactory.AddTable(tableName)
}

// GetConfig returns the server config.
func GetConfig() common.GpuScanConfig {
	return config
}
