// Copyright 2024-2025 The pulseboard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"time"
)

// Event names for the websocket wire protocol
const (
	// EventSubscribe client requests periodic polling of one metric
	EventSubscribe = "subscribe"
	// EventUnsubscribe client stops periodic polling of one metric
	EventUnsubscribe = "unsubscribe"
	// EventDashboardWatch client joins a dashboard broadcast group
	EventDashboardWatch = "dashboard:watch"
	// EventDashboardUpdate client pushes an update to a dashboard group
	EventDashboardUpdate = "dashboard:update"
	// EventMetricUpdate server delivers one metric sample
	EventMetricUpdate = "metric:update"
	// EventDashboardUpdated server relays a dashboard update
	EventDashboardUpdated = "dashboard:updated"
)

// SamplePayload the observed value of a metric
type SamplePayload struct {
	// Value the metric reading
	Value float64 `json:"value"`
	// Label optional display label attached by the producer
	Label string `json:"label,omitempty"`
}

// MetricSample a single point-in-time observation of one metric.
//
// Immutable once produced. Only the latest sample per metric is
// meaningful to a just-arriving viewer.
type MetricSample struct {
	// Metric name of the observed metric
	Metric string `json:"metric" validate:"required"`
	// Data the observed value
	Data SamplePayload `json:"data" validate:"required"`
	// Timestamp when the sample was captured
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// MetricUpdate server-to-client delivery envelope for one sample
type MetricUpdate struct {
	// Event is always EventMetricUpdate
	Event string `json:"event"`
	// Metric name of the observed metric
	Metric string `json:"metric"`
	// Data the observed value
	Data SamplePayload `json:"data"`
	// Timestamp capture time, RFC3339
	Timestamp time.Time `json:"timestamp"`
}

// NewMetricUpdate wrap a sample in its delivery envelope
func NewMetricUpdate(sample MetricSample) MetricUpdate {
	return MetricUpdate{
		Event:     EventMetricUpdate,
		Metric:    sample.Metric,
		Data:      sample.Data,
		Timestamp: sample.Timestamp,
	}
}

// DashboardUpdate server-to-client relay envelope for a dashboard update.
//
// The payload is opaque to the core and forwarded as-is.
type DashboardUpdate struct {
	// Event is always EventDashboardUpdated
	Event string `json:"event"`
	// DashboardID the dashboard being updated
	DashboardID string `json:"dashboardId"`
	// Payload opaque update content
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// NewDashboardUpdate wrap a dashboard update in its relay envelope
func NewDashboardUpdate(dashboardID string, payload map[string]interface{}) DashboardUpdate {
	return DashboardUpdate{
		Event:       EventDashboardUpdated,
		DashboardID: dashboardID,
		Payload:     payload,
	}
}
