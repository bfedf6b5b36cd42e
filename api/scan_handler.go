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

// Package api exposes the debug HTTP surface: health check, live scan
// runtime counters and device memory accounting.
package api

import (
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
	"github.com/uber/gpuscan/scan"
	"github.com/uber/gpuscan/utils"
)

func muxVar(r *http.Request, name string) (string, bool) {
	vars := mux.Vars(r)
	if vars == nil {
		return "", false
	}
	v, ok := vars[name]
	return v, ok
}

// ScanHandler serves runtime information about registered scans and the
// devices they run on.
type ScanHandler struct {
	sync.RWMutex

	scans   map[string]*scan.Scanner
	devices *scan.DeviceManager
}

// NewScanHandler creates a handler over the device manager. devices may
// be nil when the server runs without cross scan placement.
func NewScanHandler(devices *scan.DeviceManager) *ScanHandler {
	return &ScanHandler{
		scans:   make(map[string]*scan.Scanner),
		devices: devices,
	}
}

// RegisterScanner makes a running scan visible to the stats endpoints.
func (handler *ScanHandler) RegisterScanner(s *scan.Scanner) {
	handler.Lock()
	handler.scans[s.ID()] = s
	handler.Unlock()
}

// UnregisterScanner removes a finished scan.
func (handler *ScanHandler) UnregisterScanner(s *scan.Scanner) {
	handler.Lock()
	delete(handler.scans, s.ID())
	handler.Unlock()
}

// Register registers http handlers.
func (handler *ScanHandler) Register(router *mux.Router, wrappers ...utils.HTTPHandlerWrapper) {
	router.HandleFunc("/", utils.ApplyHTTPWrappers(handler.ListScans, wrappers...)).Methods(http.MethodGet)
	router.HandleFunc("/devices", utils.ApplyHTTPWrappers(handler.ShowDevices, wrappers...)).Methods(http.MethodGet)
	router.HandleFunc("/{scan}/stats", utils.ApplyHTTPWrappers(handler.ShowScanStats, wrappers...)).Methods(http.MethodGet)
}

// ListScans returns the identifiers of all registered scans.
func (handler *ScanHandler) ListScans(rw *utils.ResponseWriter, r *http.Request) {
	handler.RLock()
	ids := make([]string, 0, len(handler.scans))
	for id := range handler.scans {
		ids = append(ids, id)
	}
	handler.RUnlock()
	sort.Strings(ids)
	rw.WriteObject(ids)
}

// ShowScanStats returns the runtime counters of one scan.
func (handler *ScanHandler) ShowScanStats(rw *utils.ResponseWriter, r *http.Request) {
	id, _ := muxVar(r, "scan")
	handler.RLock()
	s, ok := handler.scans[id]
	handler.RUnlock()
	if !ok {
		rw.WriteErrorWithCode(http.StatusNotFound, utils.APIError{
			Code:    http.StatusNotFound,
			Message: "unknown scan " + id,
		})
		return
	}
	rw.WriteObject(s.Stats())
}

// ShowDevices returns the device manager's accounting snapshot.
func (handler *ScanHandler) ShowDevices(rw *utils.ResponseWriter, r *http.Request) {
	if handler.devices == nil {
		rw.WriteObject([]struct{}{})
		return
	}
	handler.devices.RLock()
	defer handler.devices.RUnlock()
	rw.WriteObject(handler.devices.DeviceInfos)
}
