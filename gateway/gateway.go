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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/metrics"
	"github.com/pulseboard/pulseboard/processor"
	"github.com/pulseboard/pulseboard/registry"
	"github.com/pulseboard/pulseboard/session"
)

// clientRequest one inbound client-to-server protocol message
type clientRequest struct {
	// Event selects the operation
	Event string `json:"event" validate:"required,oneof=subscribe unsubscribe dashboard:watch dashboard:update"`
	// Metric target metric for subscribe / unsubscribe
	Metric string `json:"metric"`
	// Interval requested poll interval in ms. Non-positive or missing
	// falls back to the session default.
	Interval int `json:"interval"`
	// DashboardID target dashboard for the dashboard events
	DashboardID string `json:"dashboardId"`
	// Payload opaque dashboard update content
	Payload map[string]interface{} `json:"payload"`
}

// ConnectionGateway accepts new websocket connections, performs the
// authorization handshake, and owns each resulting session until its
// transport closes.
type ConnectionGateway struct {
	goutils.RestAPIHandler
	verifier     AuthVerifier
	sessions     session.Manager
	groups       registry.GroupRegistry
	source       metrics.Source
	relay        processor.StreamProcessor
	upgrader     websocket.Upgrader
	validate     *validator.Validate
	fetchTimeout time.Duration
	writeTimeout time.Duration
	readLimit    int64
	wg           *sync.WaitGroup
	rootContext  context.Context
}

// GetConnectionGateway define a new connection gateway
func GetConnectionGateway(
	httpConfig *common.HTTPConfig,
	wsConfig common.WebsocketConfig,
	verifier AuthVerifier,
	sessions session.Manager,
	groups registry.GroupRegistry,
	source metrics.Source,
	relay processor.StreamProcessor,
	wg *sync.WaitGroup,
	rootCtxt context.Context,
) (*ConnectionGateway, error) {
	logTags := log.Fields{
		"module":    "gateway",
		"component": "connection-gateway",
	}
	return &ConnectionGateway{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		verifier: verifier,
		sessions: sessions,
		groups:   groups,
		source:   source,
		relay:    relay,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Second * time.Duration(wsConfig.HandshakeTimeout),
			// Browser dashboards connect cross-origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate:     validator.New(),
		fetchTimeout: time.Second * 5,
		writeTimeout: time.Second * time.Duration(wsConfig.WriteTimeout),
		readLimit:    wsConfig.ReadLimit,
		wg:           wg,
		rootContext:  rootCtxt,
	}, nil
}

// extractToken read the auth token from the handshake request
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("auth_token")
}

// Stream handle one websocket connection request.
//
// The authorization check runs before the upgrade; a rejected handshake
// allocates no session state.
func (g *ConnectionGateway) Stream(w http.ResponseWriter, r *http.Request) {
	localLogTags := g.GetLogTagsForContext(r.Context())

	token := extractToken(r)
	authorized, err := g.verifier.Verify(token, r.Context())
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Auth verifier failure")
	}
	if err != nil || !authorized {
		msg := "handshake not authorized"
		if writeErr := g.WriteRESTResponse(
			w,
			http.StatusUnauthorized,
			g.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, msg),
			nil,
		); writeErr != nil {
			log.WithError(writeErr).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}
	conn.SetReadLimit(g.readLimit)

	connID := uuid.New().String()
	transport := getWebsocketTransport(conn, g.writeTimeout)
	newSession, err := session.DefineSession(
		connID, transport, g.groups, g.source, g.fetchTimeout, g.wg, g.rootContext,
	)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define session")
		_ = transport.Close()
		return
	}
	g.sessions.Register(newSession)
	log.WithFields(localLogTags).Infof("Client connected: %s", connID)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.readPump(conn, newSession)
	}()
}

// StreamHandler wrapper around Stream
func (g *ConnectionGateway) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.Stream(w, r)
	}
}

// readPump consume inbound messages for one connection until the
// transport closes, then tear the session down.
func (g *ConnectionGateway) readPump(conn *websocket.Conn, userSession session.Session) {
	connID := userSession.ID()
	defer func() {
		if err := userSession.Close(g.rootContext); err != nil {
			log.WithError(err).WithFields(g.LogTags).Errorf(
				"Failed to close session %s", connID,
			)
		}
		g.sessions.Unregister(connID)
		log.WithFields(g.LogTags).Infof("Client disconnected: %s", connID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(g.LogTags).Debugf(
					"Read failure on connection %s", connID,
				)
			}
			return
		}
		if err := g.dispatch(raw, userSession); err != nil {
			// Malformed or unprocessable message. The connection stays open.
			log.WithError(err).WithFields(g.LogTags).Warnf(
				"Rejected message from connection %s", connID,
			)
		}
	}
}

// dispatch parse and apply one inbound message
func (g *ConnectionGateway) dispatch(raw []byte, userSession session.Session) error {
	var request clientRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	if err := g.validate.Struct(&request); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	switch request.Event {
	case common.EventSubscribe:
		if request.Metric == "" {
			return fmt.Errorf("subscribe without metric")
		}
		interval := time.Duration(request.Interval) * time.Millisecond
		return userSession.Subscribe(request.Metric, interval, g.rootContext)
	case common.EventUnsubscribe:
		if request.Metric == "" {
			return fmt.Errorf("unsubscribe without metric")
		}
		return userSession.Unsubscribe(request.Metric, g.rootContext)
	case common.EventDashboardWatch:
		if request.DashboardID == "" {
			return fmt.Errorf("dashboard:watch without dashboardId")
		}
		return userSession.WatchDashboard(request.DashboardID, g.rootContext)
	case common.EventDashboardUpdate:
		if request.DashboardID == "" {
			return fmt.Errorf("dashboard:update without dashboardId")
		}
		return g.relay.RelayDashboardUpdate(request.DashboardID, request.Payload, g.rootContext)
	}
	return fmt.Errorf("unsupported event %s", request.Event)
}
