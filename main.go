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

package main

import (
	"io/ioutil"
	"os"

	"github.com/uber/gpuscan/cmd"
	"github.com/uber/gpuscan/common"
	"gopkg.in/yaml.v2"
)

const defaultCfgPath = "config/gpuscan.yaml"

// readDefaultConfig loads the checked in config as the lowest precedence
// layer; flags and environment variables override it.
func readDefaultConfig() (cfg map[string]interface{}, err error) {
	var fileContent []byte
	fileContent, err = ioutil.ReadFile(defaultCfgPath)
	if err != nil {
		return
	}
	err = yaml.Unmarshal(fileContent, &cfg)
	return
}

func main() {
	logger := common.NewLoggerFactory().GetDefaultLogger()

	defaultCfg, err := readDefaultConfig()
	if err != nil && !os.IsNotExist(err) {
		logger.With("err", err).Fatal("Failed to read default config")
	}

	cmd.Execute(func(o *cmd.Options) {
		o.DefaultCfg = defaultCfg
	})
}
