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
	"sync"

	"github.com/uber-go/tally"
)

// MetricName is the type of the metric.
type MetricName int

// List of supported metric names.
const (
	AllocatedDeviceMemory MetricName = iota
	AllocatedBulkBufferMemory
	EstimatedDeviceMemory
	HTTPHandlerCall
	HTTPHandlerLatency
	KernelCompilationLatency
	KernelProgramCacheHit
	KernelProgramCacheMiss
	ScanFailed
	ScanSucceeded
	ScanLatency
	ScanWaitForMemoryDuration
	ScanRowsScanned
	ScanRowsFiltered
	ScanRowsReturned
	ScanChunksProcessed
	ScanBytesTransferred
	ScanCacheHit
	ScanFallbackTasks
	ScanBulkTransferDowngrade
	// Enum sentinel.
	NumMetricNames
)

// MetricType is the supported metric type.
type MetricType int

// MetricTypes which are supported.
const (
	Counter MetricType = iota
	Gauge
	Timer
)

// metricDefinition contains the definition for a metric.
type metricDefinition struct {
	// scope name for this definition
	name string
	// additional tags
	tags map[string]string
	// metric type
	metricType MetricType

	// cached tally counter
	counter tally.Counter

	// cached tally gauge
	gauge tally.Gauge

	// cached tally timer
	timer tally.Timer
}

// Scope names.
const (
	scopeNameAllocatedDeviceMemory     = "allocated_device_memory"
	scopeNameAllocatedBulkBufferMemory = "allocated_bulk_buffer_memory"
	scopeNameEstimatedDeviceMemory     = "estimated_device_memory"
	scopeNameHTTPHandlerCall           = "http.call"
	scopeNameHTTPHandlerLatency        = "http.latency"
	scopeNameKernelCompilationLatency  = "kernel_compilation_latency"
	scopeNameKernelProgramCacheHit     = "kernel_program_cache_hit"
	scopeNameKernelProgramCacheMiss    = "kernel_program_cache_miss"
	scopeNameScanFailed                = "scan_failed"
	scopeNameScanSucceeded             = "scan_succeeded"
	scopeNameScanLatency               = "scan_latency"
	scopeNameWaitForMemoryDuration     = "scan_wait_for_memory_duration"
	scopeNameRowsScanned               = "rows_scanned"
	scopeNameRowsFiltered              = "rows_filtered"
	scopeNameRowsReturned              = "rows_returned"
	scopeNameChunksProcessed           = "chunks_processed"
	scopeNameBytesTransferred          = "bytes_transferred"
	scopeNameCacheHit                  = "columnar_cache_hit"
	scopeNameFallbackTasks             = "fallback_tasks"
	scopeNameBulkTransferDowngrade     = "bulk_transfer_downgrade"
)

// Metric tag names
const (
	metricsTagComponent  = "component"
	metricsTagHandler    = "handler"
	metricsTagTable      = "table"
	metricsTagDevice     = "device"
	metricsTagOrigin     = "origin"
	metricsTagStatusCode = "status_code"
)

// Metric component tag values
const (
	metricsComponentAPI       = "api"
	metricsComponentCodegen   = "codegen"
	metricsComponentDeviceMem = "devicemem"
	metricsComponentScan      = "scan"
)

var metricsDefs = map[MetricName]metricDefinition{
	AllocatedDeviceMemory: {
		name:       scopeNameAllocatedDeviceMemory,
		metricType: Gauge,
		tags: map[string]string{
			metricsTagComponent: metricsComponentDeviceMem,
		},
	},
	AllocatedBulkBufferMemory: {
		name:       scopeNameAllocatedBulkBufferMemory,
		metricType: Gauge,
		tags: map[string]string{
			metricsTagComponent: metricsComponentDeviceMem,
		},
	},
	EstimatedDeviceMemory: {
		name:       scopeNameEstimatedDeviceMemory,
		metricType: Gauge,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	HTTPHandlerCall: {
		name:       scopeNameHTTPHandlerCall,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentAPI,
		},
	},
	HTTPHandlerLatency: {
		name:       scopeNameHTTPHandlerLatency,
		metricType: Timer,
		tags: map[string]string{
			metricsTagComponent: metricsComponentAPI,
		},
	},
	KernelCompilationLatency: {
		name:       scopeNameKernelCompilationLatency,
		metricType: Timer,
		tags: map[string]string{
			metricsTagComponent: metricsComponentCodegen,
		},
	},
	KernelProgramCacheHit: {
		name:       scopeNameKernelProgramCacheHit,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentCodegen,
		},
	},
	KernelProgramCacheMiss: {
		name:       scopeNameKernelProgramCacheMiss,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentCodegen,
		},
	},
	ScanFailed: {
		name:       scopeNameScanFailed,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanSucceeded: {
		name:       scopeNameScanSucceeded,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanLatency: {
		name:       scopeNameScanLatency,
		metricType: Timer,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanWaitForMemoryDuration: {
		name:       scopeNameWaitForMemoryDuration,
		metricType: Timer,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanRowsScanned: {
		name:       scopeNameRowsScanned,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanRowsFiltered: {
		name:       scopeNameRowsFiltered,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanRowsReturned: {
		name:       scopeNameRowsReturned,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanChunksProcessed: {
		name:       scopeNameChunksProcessed,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanBytesTransferred: {
		name:       scopeNameBytesTransferred,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanCacheHit: {
		name:       scopeNameCacheHit,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanFallbackTasks: {
		name:       scopeNameFallbackTasks,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
	ScanBulkTransferDowngrade: {
		name:       scopeNameBulkTransferDowngrade,
		metricType: Counter,
		tags: map[string]string{
			metricsTagComponent: metricsComponentScan,
		},
	},
}

func (def *metricDefinition) init(rootScope tally.Scope) {
	switch def.metricType {
	case Counter:
		def.counter = rootScope.Tagged(def.tags).Counter(def.name)
	case Gauge:
		def.gauge = rootScope.Tagged(def.tags).Gauge(def.name)
	case Timer:
		def.timer = rootScope.Tagged(def.tags).Timer(def.name)
	}
}

// ReporterFactory manages reporters for different tables. If the
// corresponding metrics are not associated with any table it can use the
// root reporter.
type ReporterFactory struct {
	sync.RWMutex
	rootReporter *Reporter
	reporters    map[string]*Reporter
}

// NewReporterFactory returns a new report factory.
func NewReporterFactory(rootScope tally.Scope) *ReporterFactory {
	return &ReporterFactory{
		rootReporter: NewReporter(rootScope),
		reporters:    make(map[string]*Reporter),
	}
}

// AddTable adds a reporter for the given table. It should be called when
// a table becomes scannable on this node.
func (f *ReporterFactory) AddTable(tableName string) {
	f.Lock()
	defer f.Unlock()
	_, ok := f.reporters[tableName]
	if !ok {
		f.reporters[tableName] = NewReporter(f.rootReporter.GetRootScope().Tagged(map[string]string{
			metricsTagTable: tableName,
		}))
	}
}

// DeleteTable deletes the reporter for the given table.
func (f *ReporterFactory) DeleteTable(tableName string) {
	f.Lock()
	defer f.Unlock()
	delete(f.reporters, tableName)
}

// GetReporter returns reporter given tableName. If the corresponding
// reporter cannot be found. It will return the root scope.
func (f *ReporterFactory) GetReporter(tableName string) *Reporter {
	f.RLock()
	defer f.RUnlock()
	reporter, ok := f.reporters[tableName]
	if ok {
		return reporter
	}
	return f.rootReporter
}

// GetRootReporter returns the root reporter.
func (f *ReporterFactory) GetRootReporter() *Reporter {
	return f.rootReporter
}

// Reporter is the the interface used to report stats,
type Reporter struct {
	rootScope         tally.Scope
	cachedDefinitions []metricDefinition
}

// NewReporter returns a new reporter with supplied root scope.
func NewReporter(rootScope tally.Scope) *Reporter {
	defs := make([]metricDefinition, NumMetricNames)
	for key, metricDefinition := range metricsDefs {
		metricDefinition.init(rootScope)
		defs[key] = metricDefinition
	}
	return &Reporter{rootScope: rootScope, cachedDefinitions: defs}
}

// GetCounter returns the tally counter with corresponding tags.
func (r *Reporter) GetCounter(n MetricName) tally.Counter {
	def := r.cachedDefinitions[n]
	if def.metricType == Counter {
		return def.counter
	}
	GetLogger().Panicf("Cannot get counter given %d", n)
	return nil
}

// GetGauge returns the tally gauge with corresponding tags.
func (r *Reporter) GetGauge(n MetricName) tally.Gauge {
	def := r.cachedDefinitions[n]
	if def.metricType == Gauge {
		return def.gauge
	}
	GetLogger().Panicf("Cannot get gauge given %d", n)
	return nil
}

// GetTimer returns the tally timer with corresponding tags.
func (r *Reporter) GetTimer(n MetricName) tally.Timer {
	def := r.cachedDefinitions[n]
	if def.metricType == Timer {
		return def.timer
	}
	GetLogger().Panicf("Cannot get timer given %d", n)
	return nil
}

// GetChildCounter create tagged child counter from reporter
func (r *Reporter) GetChildCounter(tags map[string]string, n MetricName) tally.Counter {
	childScope := r.rootScope.Tagged(tags)
	def := r.cachedDefinitions[n]
	if def.metricType == Counter {
		return childScope.Tagged(def.tags).Counter(def.name)
	}
	GetLogger().Panicf("Cannot get child counter given %d", n)
	return nil
}

// GetChildGauge create tagged child gauge from reporter
func (r *Reporter) GetChildGauge(tags map[string]string, n MetricName) tally.Gauge {
	childScope := r.rootScope.Tagged(tags)
	def := r.cachedDefinitions[n]
	if def.metricType == Gauge {
		return childScope.Tagged(def.tags).Gauge(def.name)
	}
	GetLogger().Panicf("Cannot get child gauge given %d", n)
	return nil
}

// GetChildTimer create tagged child timer from reporter
func (r *Reporter) GetChildTimer(tags map[string]string, n MetricName) tally.Timer {
	childScope := r.rootScope.Tagged(tags)
	def := r.cachedDefinitions[n]
	if def.metricType == Timer {
		return childScope.Tagged(def.tags).Timer(def.name)
	}
	GetLogger().Panicf("Cannot get child timer given %d", n)
	return nil
}

// GetRootScope returns the root scope wrapped by this reporter.
func (r *Reporter) GetRootScope() tally.Scope {
	return r.rootScope
}
