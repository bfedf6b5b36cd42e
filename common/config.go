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

package common

// DeviceConfig is the static configuration for the accelerator devices.
type DeviceConfig struct {
	// number of simulated devices to bring up
	DeviceCount int `yaml:"device_count"`
	// per device capacity in bytes
	DeviceMemoryBytes int `yaml:"device_memory_bytes"`
	// capacity of the bulk-transfer (storage direct) buffer pool in bytes
	BulkBufferBytes int `yaml:"bulk_buffer_bytes"`
	// how much portion of the device memory we are allowed use
	DeviceMemoryUtilization float32 `yaml:"device_memory_utilization"`
	// timeout in seconds for choosing device
	DeviceChoosingTimeout int `yaml:"device_choosing_timeout"`
}

// ScanConfig is the static configuration for scan execution.
type ScanConfig struct {
	// number of storage blocks reserved per cursor grab when the storage
	// supports bulk transfer; smaller ranges are used otherwise
	BlocksPerChunk int `yaml:"blocks_per_chunk"`
	// expected number of rows decoded out of one block-format page
	RowsPerBlock int `yaml:"rows_per_block"`
	// headroom multiplier applied to the estimated destination buffer size
	DestinationSlack float64 `yaml:"destination_slack"`
	// number of cooperating scan workers
	Workers int `yaml:"workers"`
}

// HTTPConfig is the static configuration for the debug http server.
type HTTPConfig struct {
	MaxConnections        int `yaml:"max_connections"`
	ReadTimeOutInSeconds  int `yaml:"read_time_out_in_seconds"`
	WriteTimeOutInSeconds int `yaml:"write_time_out_in_seconds"`
}

// GpuScanConfig is config specific for the gpuscan service.
type GpuScanConfig struct {
	// HTTP port for serving.
	Port int `yaml:"port"`

	// HTTP port for debugging.
	DebugPort int `yaml:"debug_port"`

	// Build version of the server currently running
	Version string `yaml:"version"`

	Device DeviceConfig `yaml:"device"`
	Scan   ScanConfig   `yaml:"scan"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// DefaultScanConfig fills zero fields of a ScanConfig with usable values.
func DefaultScanConfig(cfg ScanConfig) ScanConfig {
	if cfg.BlocksPerChunk <= 0 {
		cfg.BlocksPerChunk = 8
	}
	if cfg.RowsPerBlock <= 0 {
		cfg.RowsPerBlock = 64
	}
	if cfg.DestinationSlack <= 1.0 {
		cfg.DestinationSlack = 1.2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg
}
