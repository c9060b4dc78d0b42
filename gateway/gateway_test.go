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

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/metrics"
	"github.com/pulseboard/pulseboard/processor"
	"github.com/pulseboard/pulseboard/registry"
	"github.com/pulseboard/pulseboard/session"
	"github.com/pulseboard/pulseboard/storage"
	"github.com/stretchr/testify/assert"
)

type gatewayTestEnv struct {
	server   *httptest.Server
	sessions session.Manager
	groups   registry.GroupRegistry
	store    storage.SampleStore
}

func defineTestGateway(
	t *testing.T, allowedTokens []string, wg *sync.WaitGroup, ctxt context.Context,
) *gatewayTestEnv {
	assert := assert.New(t)

	httpConfig := &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Pulseboard-Request-ID",
			DoNotLogHeaders: []string{"Authorization"},
		},
	}
	wsConfig := common.WebsocketConfig{
		HandshakeTimeout: 5, WriteTimeout: 5, ReadLimit: 4096,
	}

	groups, err := registry.GetGroupRegistryInstance()
	assert.Nil(err)
	sessions, err := session.GetManagerInstance()
	assert.Nil(err)
	store, err := storage.GetInMemorySampleStore()
	assert.Nil(err)
	source, err := metrics.GetStoreBackedSource(store)
	assert.Nil(err)
	ingester, err := metrics.GetRandomWalkIngester(time.Now().UnixNano())
	assert.Nil(err)
	relay, err := processor.GetStreamProcessor(
		groups, sessions, ingester, store, nil, time.Second, time.Second, wg, ctxt,
	)
	assert.Nil(err)
	verifier, err := GetStaticTokenVerifier(allowedTokens)
	assert.Nil(err)

	uut, err := GetConnectionGateway(
		httpConfig, wsConfig, verifier, sessions, groups, source, relay, wg, ctxt,
	)
	assert.Nil(err)

	router := mux.NewRouter()
	router.HandleFunc("/v1/stream", uut.StreamHandler())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gatewayTestEnv{
		server: server, sessions: sessions, groups: groups, store: store,
	}
}

func (e *gatewayTestEnv) streamURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/stream"
}

// waitFor poll a condition with a deadline
func waitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond * 10)
	}
	return condition()
}

func TestGatewayRejectsUnauthorizedHandshake(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	env := defineTestGateway(t, []string{"valid-token"}, &wg, ctxt)

	// No token at all
	_, resp, err := websocket.DefaultDialer.Dial(env.streamURL(), nil)
	assert.NotNil(err)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	// Wrong token in the query string
	_, resp, err = websocket.DefaultDialer.Dial(
		env.streamURL()+"?auth_token=wrong", nil,
	)
	assert.NotNil(err)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	// Wrong bearer token
	_, resp, err = websocket.DefaultDialer.Dial(
		env.streamURL(), http.Header{"Authorization": []string{"Bearer wrong"}},
	)
	assert.NotNil(err)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	// A rejected handshake allocates no session state
	assert.Equal(0, env.sessions.Count())
	assert.Empty(env.groups.ActiveGroups())
}

func TestGatewayStreamLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	env := defineTestGateway(t, []string{"valid-token"}, &wg, ctxt)

	// Pre-seed the store so poll ticks have something to fetch
	assert.Nil(env.store.Put(common.MetricSample{
		Metric:    "sales",
		Data:      common.SamplePayload{Value: 321.5},
		Timestamp: time.Now().UTC(),
	}, context.Background()))

	conn, resp, err := websocket.DefaultDialer.Dial(
		env.streamURL(), http.Header{"Authorization": []string{"Bearer valid-token"}},
	)
	assert.Nil(err)
	assert.Equal(http.StatusSwitchingProtocols, resp.StatusCode)
	assert.True(waitFor(func() bool { return env.sessions.Count() == 1 }, time.Second))

	assert.Nil(conn.WriteJSON(map[string]interface{}{
		"event": "subscribe", "metric": "sales", "interval": 100,
	}))
	assert.True(waitFor(func() bool {
		return len(env.groups.MembersOf(registry.MetricGroup("sales"))) == 1
	}, time.Second))

	var update common.MetricUpdate
	assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 2)))
	assert.Nil(conn.ReadJSON(&update))
	assert.Equal(common.EventMetricUpdate, update.Event)
	assert.Equal("sales", update.Metric)
	assert.Equal(321.5, update.Data.Value)

	// A malformed message is rejected but the connection survives
	assert.Nil(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	// As is a structurally valid message with an unknown event
	assert.Nil(conn.WriteJSON(map[string]interface{}{"event": "bogus"}))
	assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 2)))
	assert.Nil(conn.ReadJSON(&update))
	assert.Equal("sales", update.Metric)

	// Unsubscribe drops the membership
	assert.Nil(conn.WriteJSON(map[string]interface{}{
		"event": "unsubscribe", "metric": "sales",
	}))
	assert.True(waitFor(func() bool {
		return len(env.groups.MembersOf(registry.MetricGroup("sales"))) == 0
	}, time.Second))

	// Dropping the connection tears the session down
	assert.Nil(conn.Close())
	assert.True(waitFor(func() bool { return env.sessions.Count() == 0 }, time.Second))
	assert.Empty(env.groups.ActiveGroups())
}

func TestGatewayDashboardRelay(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	env := defineTestGateway(t, nil, &wg, ctxt)

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(
			env.streamURL()+"?auth_token=anything", nil,
		)
		assert.Nil(err)
		return conn
	}
	editor := dial()
	defer func() { _ = editor.Close() }()
	viewer := dial()
	defer func() { _ = viewer.Close() }()
	outsider := dial()
	defer func() { _ = outsider.Close() }()
	assert.True(waitFor(func() bool { return env.sessions.Count() == 3 }, time.Second))

	for _, conn := range []*websocket.Conn{editor, viewer} {
		assert.Nil(conn.WriteJSON(map[string]interface{}{
			"event": "dashboard:watch", "dashboardId": "main",
		}))
	}
	assert.True(waitFor(func() bool {
		return len(env.groups.MembersOf(registry.DashboardGroup("main"))) == 2
	}, time.Second))

	payload := map[string]interface{}{"widget": "chart-7", "state": "expanded"}
	assert.Nil(editor.WriteJSON(map[string]interface{}{
		"event": "dashboard:update", "dashboardId": "main", "payload": payload,
	}))

	// Every watcher receives the relay, the sender included
	for _, conn := range []*websocket.Conn{editor, viewer} {
		var relayed common.DashboardUpdate
		assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 2)))
		assert.Nil(conn.ReadJSON(&relayed))
		assert.Equal(common.EventDashboardUpdated, relayed.Event)
		assert.Equal("main", relayed.DashboardID)
		assert.Equal(payload, relayed.Payload)
	}

	// A connection outside the group hears nothing
	assert.Nil(outsider.SetReadDeadline(time.Now().Add(time.Millisecond * 300)))
	var stray common.DashboardUpdate
	assert.NotNil(outsider.ReadJSON(&stray))
}
