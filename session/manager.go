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
	"sync"

	"github.com/apex/log"
	"github.com/pulseboard/pulseboard/common"
)

// Manager directory of live sessions keyed by connection id.
//
// Owns no session lifecycle beyond CloseAll at shutdown; the gateway
// registers a session after the handshake and unregisters it when the
// transport closes.
type Manager interface {
	// Register add a live session
	Register(session Session)
	// Get look a session up by connection id
	Get(connID string) (Session, bool)
	// Unregister remove a session from the directory
	Unregister(connID string)
	// CloseAll close every registered session and empty the directory
	CloseAll(ctxt context.Context)
	// Count the number of live sessions
	Count() int
}

// managerImpl implements Manager
type managerImpl struct {
	common.Component
	lock     sync.RWMutex
	sessions map[string]Session
}

// GetManagerInstance create new session directory
func GetManagerInstance() (Manager, error) {
	logTags := log.Fields{
		"module": "session", "component": "session-manager",
	}
	return &managerImpl{
		Component: common.Component{LogTags: logTags},
		sessions:  make(map[string]Session),
	}, nil
}

// Register add a live session
func (m *managerImpl) Register(session Session) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sessions[session.ID()] = session
	log.WithFields(m.LogTags).Infof(
		"Registered session %s. %d live", session.ID(), len(m.sessions),
	)
}

// Get look a session up by connection id
func (m *managerImpl) Get(connID string) (Session, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	session, ok := m.sessions[connID]
	return session, ok
}

// Unregister remove a session from the directory
func (m *managerImpl) Unregister(connID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.sessions, connID)
	log.WithFields(m.LogTags).Infof(
		"Unregistered session %s. %d live", connID, len(m.sessions),
	)
}

// CloseAll close every registered session and empty the directory
func (m *managerImpl) CloseAll(ctxt context.Context) {
	m.lock.Lock()
	live := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		live = append(live, session)
	}
	m.sessions = make(map[string]Session)
	m.lock.Unlock()
	for _, session := range live {
		if err := session.Close(ctxt); err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Failed to close session %s", session.ID(),
			)
		}
	}
}

// Count the number of live sessions
func (m *managerImpl) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.sessions)
}
