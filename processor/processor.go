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

package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/metrics"
	"github.com/pulseboard/pulseboard/registry"
	"github.com/pulseboard/pulseboard/session"
	"github.com/pulseboard/pulseboard/storage"
)

// StreamProcessor single background loop ingesting fresh samples and
// broadcasting them to every connection registered for the metric,
// independent of any per-connection poll timer.
type StreamProcessor interface {
	// Start begin cycling. Idempotent.
	Start() error
	// Stop halt cycling. Idempotent.
	Stop() error
	// Ready whether the processor is running
	Ready() bool
	// RelayDashboardUpdate fan a client-originated dashboard update out
	// to the dashboard's broadcast group. Not timer driven.
	RelayDashboardUpdate(
		dashboardID string, payload map[string]interface{}, ctxt context.Context,
	) error
}

// streamProcessorImpl implements StreamProcessor
type streamProcessorImpl struct {
	common.Component
	groups        registry.GroupRegistry
	sessions      session.Manager
	ingester      metrics.Ingester
	store         storage.SampleStore
	seedMetrics   []string
	cycleInterval time.Duration
	callTimeout   time.Duration
	timer         common.IntervalTimer
	rootContext   context.Context
	lock          *sync.Mutex
	started       bool
}

// GetStreamProcessor define a new stream processor
func GetStreamProcessor(
	groups registry.GroupRegistry,
	sessions session.Manager,
	ingester metrics.Ingester,
	store storage.SampleStore,
	seedMetrics []string,
	cycleInterval time.Duration,
	callTimeout time.Duration,
	wg *sync.WaitGroup,
	rootCtxt context.Context,
) (StreamProcessor, error) {
	logTags := log.Fields{
		"module": "processor", "component": "stream-processor",
	}
	timer, err := common.GetIntervalTimerInstance("stream-processor", rootCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define cycle timer")
		return nil, err
	}
	return &streamProcessorImpl{
		Component:     common.Component{LogTags: logTags},
		groups:        groups,
		sessions:      sessions,
		ingester:      ingester,
		store:         store,
		seedMetrics:   seedMetrics,
		cycleInterval: cycleInterval,
		callTimeout:   callTimeout,
		timer:         timer,
		rootContext:   rootCtxt,
		lock:          &sync.Mutex{},
	}, nil
}

// Start begin cycling
func (p *streamProcessorImpl) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.started {
		return nil
	}
	if err := p.timer.Start(p.cycleInterval, p.broadcastCycle, false); err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to start cycle timer")
		return err
	}
	p.started = true
	log.WithFields(p.LogTags).Infof("Started with cycle interval %s", p.cycleInterval)
	return nil
}

// Stop halt cycling
func (p *streamProcessorImpl) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.started {
		return nil
	}
	if err := p.timer.Stop(); err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to stop cycle timer")
		return err
	}
	p.started = false
	log.WithFields(p.LogTags).Info("Stopped")
	return nil
}

// Ready whether the processor is running
func (p *streamProcessorImpl) Ready() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.started
}

// broadcastCycle one ingest-and-fan-out pass.
//
// The cycle covers the configured seed metrics plus any metric with
// live broadcast group members. Every covered metric gets a fresh
// persisted sample so poll timers always find recent data; only
// metrics with members are broadcast.
func (p *streamProcessorImpl) broadcastCycle() error {
	covered := make(map[string]bool)
	for _, metric := range p.seedMetrics {
		covered[metric] = true
	}
	metricPrefix := registry.MetricGroup("")
	for _, group := range p.groups.ActiveGroups() {
		if strings.HasPrefix(group, metricPrefix) {
			covered[strings.TrimPrefix(group, metricPrefix)] = true
		}
	}
	for metric := range covered {
		if err := p.processMetric(metric); err != nil {
			log.WithError(err).WithFields(p.LogTags).Errorf(
				"Broadcast cycle failed for %s", metric,
			)
		}
	}
	return nil
}

// processMetric ingest one fresh sample, persist it, then deliver it to
// every member of the metric's broadcast group
func (p *streamProcessorImpl) processMetric(metric string) error {
	callCtxt, cancel := context.WithTimeout(p.rootContext, p.callTimeout)
	defer cancel()
	sample, err := p.ingester.Ingest(metric, callCtxt)
	if err != nil {
		return fmt.Errorf("ingest of %s failed: %w", metric, err)
	}
	if err := p.store.Put(sample, callCtxt); err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Failed to persist sample for %s. Broadcasting anyway", metric,
		)
	}
	members := p.groups.MembersOf(registry.MetricGroup(metric))
	if len(members) == 0 {
		return nil
	}
	p.fanOut(common.NewMetricUpdate(sample), members)
	return nil
}

// fanOut deliver one event to each listed connection. A connection gone
// from the directory is skipped, not an error.
func (p *streamProcessorImpl) fanOut(event interface{}, members []string) {
	for _, connID := range members {
		target, ok := p.sessions.Get(connID)
		if !ok {
			log.WithFields(p.LogTags).Debugf(
				"Skipping broadcast to gone connection %s", connID,
			)
			continue
		}
		if err := target.Deliver(event, p.rootContext); err != nil {
			log.WithError(err).WithFields(p.LogTags).Debugf(
				"Broadcast delivery to %s skipped", connID,
			)
		}
	}
}

// RelayDashboardUpdate fan a dashboard update out to its group
func (p *streamProcessorImpl) RelayDashboardUpdate(
	dashboardID string, payload map[string]interface{}, ctxt context.Context,
) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	members := p.groups.MembersOf(registry.DashboardGroup(dashboardID))
	log.WithFields(p.LogTags).Debugf(
		"Relaying dashboard %s update to %d connections", dashboardID, len(members),
	)
	p.fanOut(common.NewDashboardUpdate(dashboardID, payload), members)
	return nil
}
