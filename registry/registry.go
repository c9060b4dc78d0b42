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

package registry

import (
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/pulseboard/pulseboard/common"
)

// MetricGroup broadcast group id for a metric
func MetricGroup(metric string) string {
	return fmt.Sprintf("metric:%s", metric)
}

// DashboardGroup broadcast group id for a dashboard
func DashboardGroup(dashboardID string) string {
	return fmt.Sprintf("dashboard:%s", dashboardID)
}

// GroupRegistry authoritative map from broadcast group to the set of
// connections interested in it.
//
// Membership is tracked independently of any per-connection poll timer;
// a connection can be a broadcast target without polling the metric.
type GroupRegistry interface {
	// Join add a connection to a broadcast group
	Join(group string, connID string)
	// Leave remove a connection from a broadcast group. No-op if absent.
	Leave(group string, connID string)
	// MembersOf list the connections in a broadcast group
	MembersOf(group string) []string
	// LeaveAll remove a connection from every group it joined.
	// O(groups the connection joined). Safe on an unknown connection.
	LeaveAll(connID string)
	// ActiveGroups list every group with at least one member
	ActiveGroups() []string
}

// groupRegistryImpl implements GroupRegistry
type groupRegistryImpl struct {
	common.Component
	lock sync.RWMutex
	// groups maps group id to member connection ids
	groups map[string]map[string]bool
	// joined is the reverse index from connection id to its groups
	joined map[string]map[string]bool
}

// GetGroupRegistryInstance create new broadcast group registry
func GetGroupRegistryInstance() (GroupRegistry, error) {
	logTags := log.Fields{
		"module": "registry", "component": "group-registry",
	}
	return &groupRegistryImpl{
		Component: common.Component{LogTags: logTags},
		groups:    make(map[string]map[string]bool),
		joined:    make(map[string]map[string]bool),
	}, nil
}

// Join add a connection to a broadcast group
func (r *groupRegistryImpl) Join(group string, connID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.groups[group]; !ok {
		r.groups[group] = make(map[string]bool)
	}
	r.groups[group][connID] = true
	if _, ok := r.joined[connID]; !ok {
		r.joined[connID] = make(map[string]bool)
	}
	r.joined[connID][group] = true
	log.WithFields(r.LogTags).Debugf("Connection %s joined %s", connID, group)
}

// Leave remove a connection from a broadcast group
func (r *groupRegistryImpl) Leave(group string, connID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.removeMembership(group, connID)
}

// removeMembership drop one (group, connection) link. Caller holds lock.
func (r *groupRegistryImpl) removeMembership(group string, connID string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if groups, ok := r.joined[connID]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(r.joined, connID)
		}
	}
}

// MembersOf list the connections in a broadcast group
func (r *groupRegistryImpl) MembersOf(group string) []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	members := make([]string, 0, len(r.groups[group]))
	for connID := range r.groups[group] {
		members = append(members, connID)
	}
	return members
}

// LeaveAll remove a connection from every group it joined
func (r *groupRegistryImpl) LeaveAll(connID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for group := range r.joined[connID] {
		r.removeMembership(group, connID)
	}
	log.WithFields(r.LogTags).Debugf("Connection %s left all groups", connID)
}

// ActiveGroups list every group with at least one member
func (r *groupRegistryImpl) ActiveGroups() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	groups := make([]string, 0, len(r.groups))
	for group := range r.groups {
		groups = append(groups, group)
	}
	return groups
}
