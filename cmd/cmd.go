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

package cmd

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/uber/gpuscan/api"
	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/scan"
	"github.com/uber/gpuscan/utils"
)

// Options represents options for executing command
type Options struct {
	DefaultCfg   map[string]interface{}
	ServerLogger common.Logger
	ScanLogger   common.Logger
	Metrics      common.Metrics
	HTTPWrappers []utils.HTTPHandlerWrapper
}

// Option is for setting option
type Option func(*Options)

// singleton of GpuScanD instance
var gpuscand *GpuScanD
var once sync.Once

// GpuScanD wires the server components so the process entry point and
// tests share the same startup path.
type GpuScanD struct {
	cfg     common.GpuScanConfig
	options *Options
	// server is http server instance started inside GpuScanD
	server *http.Server
	// StartedChan is used to notify other route that the server is started
	StartedChan chan struct{}
}

// NewGpuScanD create singleton of GpuScanD
func NewGpuScanD(cfg common.GpuScanConfig, options *Options) *GpuScanD {
	once.Do(func() {
		gpuscand = &GpuScanD{
			cfg:         cfg,
			options:     options,
			StartedChan: make(chan struct{}, 1),
		}
	})
	return gpuscand
}

// Start start gpuscan server
func (d *GpuScanD) Start() {
	d.start(d.cfg, d.options.ServerLogger, d.options.ScanLogger, d.options.Metrics, d.options.HTTPWrappers...)
}

// Shutdown stop gpuscan server
func (d *GpuScanD) Shutdown() {
	if d.server != nil {
		d.server.Close()
		d.server = nil
	}
}

// Execute executes command with options
func Execute(setters ...Option) {

	loggerFactory := common.NewLoggerFactory()
	options := &Options{
		ServerLogger: loggerFactory.GetDefaultLogger(),
		ScanLogger:   loggerFactory.GetLogger("scan"),
		Metrics:      common.NewNoopMetrics(),
	}

	for _, setter := range setters {
		setter(options)
	}

	cmd := &cobra.Command{
		Use:     "gpuscand",
		Short:   "GpuScan",
		Long:    `GpuScan offloads relational table scans to accelerator devices`,
		Example: `./gpuscand --config config/gpuscan.yaml --port 9374 --debug_port 43202`,
		Run: func(cmd *cobra.Command, args []string) {

			cfg, err := ReadConfig(options.DefaultCfg, cmd.Flags())
			if err != nil {
				options.ServerLogger.With("err", err.Error()).Fatal("failed to read configs")
			}

			d := NewGpuScanD(cfg, options)
			d.Start()
		},
	}
	AddFlags(cmd)
	cmd.Execute()
}

// start is the entry point of starting gpuscan.
func (d *GpuScanD) start(cfg common.GpuScanConfig, logger common.Logger, scanLogger common.Logger,
	metricsCfg common.Metrics, httpWrappers ...utils.HTTPHandlerWrapper) {
	logger.With("config", cfg).Info("Bootstrapping service")

	scope, closer, err := metricsCfg.NewRootScope()
	if err != nil {
		logger.Fatal("Failed to create new root scope", err)
	}
	defer closer.Close()

	// Init common components.
	utils.Init(cfg, logger, scanLogger, scope)

	scope.Counter("restart").Inc(1)

	// Bring up the simulated devices and the cross scan placement layer.
	mem := devicemem.NewManager(devicemem.Config{
		NumDevices:     cfg.Device.DeviceCount,
		DeviceCapacity: int64(cfg.Device.DeviceMemoryBytes),
		BulkCapacity:   int64(cfg.Device.BulkBufferBytes),
	})
	deviceManager := scan.NewDeviceManager(mem, cfg.Device)

	scanHandler := api.NewScanHandler(deviceManager)
	healthCheckHandler := api.NewHealthCheckHandler()

	middleware := utils.NewMetricsLoggingMiddleWareProvider(scope, logger)
	httpWrappers = append([]utils.HTTPHandlerWrapper{middleware.WithMetrics, middleware.WithLogging}, httpWrappers...)

	// Start HTTP server for debugging.
	if cfg.DebugPort > 0 {
		go func() {
			debugRouter := mux.NewRouter()
			scanHandler.Register(debugRouter.PathPrefix("/scans").Subrouter())
			debugRouter.HandleFunc("/health/{onOrOff}", utils.ApplyHTTPWrappers(healthCheckHandler.HealthSwitch)).Methods(http.MethodPost)
			debugRouter.HandleFunc("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
			debugRouter.HandleFunc("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
			debugRouter.HandleFunc("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
			debugRouter.HandleFunc("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
			debugRouter.PathPrefix("/debug/pprof/").Handler(http.HandlerFunc(pprof.Index))

			utils.GetLogger().Infof("Starting HTTP server on dbg-port %d", cfg.DebugPort)
			utils.GetLogger().Fatal(http.ListenAndServe(fmt.Sprintf(":%d", cfg.DebugPort), debugRouter))
		}()
	} else {
		utils.GetLogger().Infof("Debug port not configured, debug server will be disabled")
	}

	// Start serving.
	router := mux.NewRouter()
	scanHandler.Register(router.PathPrefix("/scans").Subrouter(), httpWrappers...)
	router.HandleFunc("/health", healthCheckHandler.HealthCheck)
	router.HandleFunc("/version", healthCheckHandler.Version)

	// Support CORS calls.
	allowOrigins := handlers.AllowedOrigins([]string{"*"})
	allowHeaders := handlers.AllowedHeaders([]string{"Accept", "Accept-Language", "Content-Language", "Origin", "Content-Type"})
	allowMethods := handlers.AllowedMethods([]string{"GET", "PUT", "POST", "DELETE", "OPTIONS"})

	utils.GetLogger().Infof("Starting HTTP server on port %d with max connection %d", cfg.Port, cfg.HTTP.MaxConnections)
	errChan, server := utils.LimitServeAsync(cfg.Port, handlers.CORS(allowOrigins, allowHeaders, allowMethods)(router), cfg.HTTP)
	d.server = server
	d.StartedChan <- struct{}{}
	utils.GetLogger().Fatal(<-errChan)
}
