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
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts one gorilla websocket connection to the session
// Transport contract. Writes are serialized under a mutex since the
// poll scheduler and stream processor both produce into the same
// connection.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	lock         sync.Mutex
}

// getWebsocketTransport wrap a websocket connection for session use
func getWebsocketTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

// Send marshal one event as JSON and write it with a deadline
func (t *wsTransport) Send(event interface{}, ctxt context.Context) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(event)
}

// Close send a best effort close frame and drop the connection
func (t *wsTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}
