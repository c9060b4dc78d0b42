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

package session

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/metrics"
	"github.com/pulseboard/pulseboard/registry"
)

// DefaultPollInterval used when a subscribe request carries a missing or
// non-positive interval
const DefaultPollInterval = time.Second

// Transport the send side of one client connection.
//
// Send failures indicate a slow or dead client. They are logged by the
// session and never propagated to the poll scheduler or the stream
// processor.
type Transport interface {
	Send(event interface{}, ctxt context.Context) error
	Close() error
}

// Session per-connection state machine.
//
// A session is Active from construction until Close, which is terminal.
// All operations return an error once the session is closed.
type Session interface {
	// ID the connection id
	ID() string
	// Subscribe start periodic polling of a metric for this connection.
	// An existing subscription for the same metric is replaced, never
	// stacked. Also joins the metric's broadcast group.
	Subscribe(metric string, interval time.Duration, ctxt context.Context) error
	// Unsubscribe stop polling a metric. No-op if not subscribed. Also
	// leaves the metric's broadcast group.
	Unsubscribe(metric string, ctxt context.Context) error
	// WatchDashboard join a dashboard's broadcast group
	WatchDashboard(dashboardID string, ctxt context.Context) error
	// Deliver push one event to the connection's transport
	Deliver(event interface{}, ctxt context.Context) error
	// Close tear the session down: cancel every poll timer, leave every
	// broadcast group, close the transport. Idempotent.
	Close(ctxt context.Context) error
}

// sessionImpl implements Session.
//
// Operations are serialized through one task processor event loop, so
// the timer map and state flag are only touched by the loop goroutine.
type sessionImpl struct {
	common.Component
	id               string
	transport        Transport
	groups           registry.GroupRegistry
	source           metrics.Source
	tp               common.TaskProcessor
	wg               *sync.WaitGroup
	operationContext context.Context
	contextCancel    context.CancelFunc
	fetchTimeout     time.Duration
	// timers maps metric name to its live poll timer. Loop-owned.
	timers map[string]common.IntervalTimer
	// closed marks the terminal state. Loop-owned.
	closed    bool
	closeOnce sync.Once
}

// DefineSession create a new Active session for an authorized connection
func DefineSession(
	id string,
	transport Transport,
	groups registry.GroupRegistry,
	source metrics.Source,
	fetchTimeout time.Duration,
	wg *sync.WaitGroup,
	rootCtxt context.Context,
) (Session, error) {
	logTags := log.Fields{
		"module": "session", "component": "connection-session", "connection": id,
	}
	tp, err := common.GetNewTaskProcessorInstance(fmt.Sprintf("session/%s", id), 64)
	if err != nil {
		return nil, err
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	instance := sessionImpl{
		Component:        common.Component{LogTags: logTags},
		id:               id,
		transport:        transport,
		groups:           groups,
		source:           source,
		tp:               tp,
		wg:               wg,
		operationContext: ctxt,
		contextCancel:    cancel,
		fetchTimeout:     fetchTimeout,
		timers:           make(map[string]common.IntervalTimer),
	}
	// Add handlers
	for theType, handler := range map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(sessionSubscribeReq{}):   instance.processSubscribeRequest,
		reflect.TypeOf(sessionUnsubscribeReq{}): instance.processUnsubscribeRequest,
		reflect.TypeOf(sessionWatchReq{}):       instance.processWatchRequest,
		reflect.TypeOf(sessionDeliverReq{}):     instance.processDeliverRequest,
		reflect.TypeOf(sessionCloseReq{}):       instance.processCloseRequest,
	} {
		if err := tp.AddToTaskExecutionMap(theType, handler); err != nil {
			cancel()
			return nil, err
		}
	}
	if err := tp.StartEventLoop(wg); err != nil {
		cancel()
		return nil, err
	}
	return &instance, nil
}

// ID the connection id
func (s *sessionImpl) ID() string {
	return s.id
}

// runSerialized submit a request and wait for the loop to process it.
// Returns promptly with an error if the session shut down in between.
func (s *sessionImpl) runSerialized(
	request interface{}, complete chan error, ctxt context.Context,
) error {
	if err := s.tp.Submit(request, ctxt); err != nil {
		return err
	}
	select {
	case err := <-complete:
		return err
	case <-s.operationContext.Done():
		return fmt.Errorf("session %s closed", s.id)
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

// ----------------------------------------------------------------------------------------

type sessionSubscribeReq struct {
	metric   string
	interval time.Duration
	resultCB func(error)
}

// Subscribe start periodic polling of a metric for this connection
func (s *sessionImpl) Subscribe(
	metric string, interval time.Duration, ctxt context.Context,
) error {
	complete := make(chan error, 1)
	request := sessionSubscribeReq{
		metric:   metric,
		interval: interval,
		resultCB: func(err error) { complete <- err },
	}
	return s.runSerialized(request, complete, ctxt)
}

func (s *sessionImpl) processSubscribeRequest(param interface{}) error {
	request, ok := param.(sessionSubscribeReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for subscribe request", reflect.TypeOf(param),
		)
	}
	err := s.ProcessSubscribeRequest(request.metric, request.interval)
	request.resultCB(err)
	return err
}

// ProcessSubscribeRequest start or replace the poll timer of a metric
func (s *sessionImpl) ProcessSubscribeRequest(metric string, interval time.Duration) error {
	if s.closed {
		return fmt.Errorf("session %s closed", s.id)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	// Replace, never stack: the old timer must stop before a new one
	// starts so no (connection, metric) pair ever double ticks.
	if existing, ok := s.timers[metric]; ok {
		if err := existing.Stop(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed to stop prior poll timer for %s", metric,
			)
		}
		delete(s.timers, metric)
	}
	s.groups.Join(registry.MetricGroup(metric), s.id)
	timer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("%s/%s", s.id, metric), s.operationContext, s.wg,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to define poll timer for %s", metric,
		)
		return err
	}
	if err := timer.Start(interval, func() error {
		return s.pollTick(metric)
	}, false); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to start poll timer for %s", metric,
		)
		return err
	}
	s.timers[metric] = timer
	log.WithFields(s.LogTags).Infof("Subscribed to %s at %s", metric, interval)
	return nil
}

// pollTick one fetch-and-deliver attempt for (connection, metric).
//
// Runs in the timer goroutine. A failed fetch is logged and skipped;
// the timer keeps running and retries on the next tick.
func (s *sessionImpl) pollTick(metric string) error {
	fetchCtxt, cancel := context.WithTimeout(s.operationContext, s.fetchTimeout)
	sample, err := s.source.Fetch(metric, fetchCtxt)
	cancel()
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Fetch failed for %s. Will retry next tick", metric,
		)
		return nil
	}
	if err := s.Deliver(common.NewMetricUpdate(sample), s.operationContext); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debugf(
			"Skipped delivery of %s tick", metric,
		)
	}
	return nil
}

// ----------------------------------------------------------------------------------------

type sessionUnsubscribeReq struct {
	metric   string
	resultCB func(error)
}

// Unsubscribe stop polling a metric
func (s *sessionImpl) Unsubscribe(metric string, ctxt context.Context) error {
	complete := make(chan error, 1)
	request := sessionUnsubscribeReq{
		metric:   metric,
		resultCB: func(err error) { complete <- err },
	}
	return s.runSerialized(request, complete, ctxt)
}

func (s *sessionImpl) processUnsubscribeRequest(param interface{}) error {
	request, ok := param.(sessionUnsubscribeReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for unsubscribe request", reflect.TypeOf(param),
		)
	}
	err := s.ProcessUnsubscribeRequest(request.metric)
	request.resultCB(err)
	return err
}

// ProcessUnsubscribeRequest cancel the poll timer of a metric and leave
// its broadcast group
func (s *sessionImpl) ProcessUnsubscribeRequest(metric string) error {
	if s.closed {
		return fmt.Errorf("session %s closed", s.id)
	}
	timer, ok := s.timers[metric]
	if !ok {
		// not subscribed, nothing to do
		return nil
	}
	if err := timer.Stop(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to stop poll timer for %s", metric,
		)
	}
	delete(s.timers, metric)
	s.groups.Leave(registry.MetricGroup(metric), s.id)
	log.WithFields(s.LogTags).Infof("Unsubscribed from %s", metric)
	return nil
}

// ----------------------------------------------------------------------------------------

type sessionWatchReq struct {
	dashboardID string
	resultCB    func(error)
}

// WatchDashboard join a dashboard's broadcast group
func (s *sessionImpl) WatchDashboard(dashboardID string, ctxt context.Context) error {
	complete := make(chan error, 1)
	request := sessionWatchReq{
		dashboardID: dashboardID,
		resultCB:    func(err error) { complete <- err },
	}
	return s.runSerialized(request, complete, ctxt)
}

func (s *sessionImpl) processWatchRequest(param interface{}) error {
	request, ok := param.(sessionWatchReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for watch request", reflect.TypeOf(param),
		)
	}
	var err error
	if s.closed {
		err = fmt.Errorf("session %s closed", s.id)
	} else {
		s.groups.Join(registry.DashboardGroup(request.dashboardID), s.id)
		log.WithFields(s.LogTags).Infof("Watching dashboard %s", request.dashboardID)
	}
	request.resultCB(err)
	return err
}

// ----------------------------------------------------------------------------------------

type sessionDeliverReq struct {
	event    interface{}
	resultCB func(error)
}

// Deliver push one event to the connection's transport
func (s *sessionImpl) Deliver(event interface{}, ctxt context.Context) error {
	complete := make(chan error, 1)
	request := sessionDeliverReq{
		event:    event,
		resultCB: func(err error) { complete <- err },
	}
	return s.runSerialized(request, complete, ctxt)
}

func (s *sessionImpl) processDeliverRequest(param interface{}) error {
	request, ok := param.(sessionDeliverReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for deliver request", reflect.TypeOf(param),
		)
	}
	err := s.ProcessDeliverRequest(request.event)
	request.resultCB(err)
	return err
}

// ProcessDeliverRequest forward one event to the transport.
//
// A delivery racing close resolves to a no-op. Transport send failures
// are contained here so a dead client can not stall a producer.
func (s *sessionImpl) ProcessDeliverRequest(event interface{}) error {
	if s.closed {
		return nil
	}
	if err := s.transport.Send(event, s.operationContext); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Transport send failed")
	}
	return nil
}

// ----------------------------------------------------------------------------------------

type sessionCloseReq struct {
	resultCB func(error)
}

// Close tear the session down. Idempotent.
func (s *sessionImpl) Close(ctxt context.Context) error {
	s.closeOnce.Do(func() {
		complete := make(chan error, 1)
		request := sessionCloseReq{
			resultCB: func(err error) { complete <- err },
		}
		if err := s.tp.Submit(request, ctxt); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Failed to submit close request")
			return
		}
		select {
		case <-complete:
		case <-ctxt.Done():
		}
	})
	return nil
}

func (s *sessionImpl) processCloseRequest(param interface{}) error {
	request, ok := param.(sessionCloseReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for close request", reflect.TypeOf(param),
		)
	}
	err := s.ProcessCloseRequest()
	request.resultCB(err)
	return err
}

// ProcessCloseRequest transition to Closed: every poll timer is
// cancelled and every broadcast membership removed before this returns.
func (s *sessionImpl) ProcessCloseRequest() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for metric, timer := range s.timers {
		if err := timer.Stop(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed to stop poll timer for %s during close", metric,
			)
		}
	}
	s.timers = make(map[string]common.IntervalTimer)
	s.groups.LeaveAll(s.id)
	if err := s.transport.Close(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Transport close failed")
	}
	s.contextCancel()
	if err := s.tp.StopEventLoop(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Failed to stop session event loop")
	}
	log.WithFields(s.LogTags).Info("Session closed")
	return nil
}
