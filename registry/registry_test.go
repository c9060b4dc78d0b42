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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupNames(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("metric:sales", MetricGroup("sales"))
	assert.Equal("dashboard:main", DashboardGroup("main"))
}

func TestGroupRegistryBasicMembership(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetGroupRegistryInstance()
	assert.Nil(err)

	assert.Empty(uut.MembersOf(MetricGroup("sales")))
	assert.Empty(uut.ActiveGroups())

	uut.Join(MetricGroup("sales"), "conn-1")
	uut.Join(MetricGroup("sales"), "conn-2")
	uut.Join(MetricGroup("users"), "conn-1")

	assert.ElementsMatch([]string{"conn-1", "conn-2"}, uut.MembersOf(MetricGroup("sales")))
	assert.ElementsMatch([]string{"conn-1"}, uut.MembersOf(MetricGroup("users")))
	assert.ElementsMatch(
		[]string{MetricGroup("sales"), MetricGroup("users")}, uut.ActiveGroups(),
	)

	// Joining again is a no-op
	uut.Join(MetricGroup("sales"), "conn-1")
	assert.Len(uut.MembersOf(MetricGroup("sales")), 2)

	uut.Leave(MetricGroup("sales"), "conn-2")
	assert.ElementsMatch([]string{"conn-1"}, uut.MembersOf(MetricGroup("sales")))

	// Leaving a group never joined is a no-op
	uut.Leave(MetricGroup("revenue"), "conn-2")
	assert.Empty(uut.MembersOf(MetricGroup("revenue")))
}

func TestGroupRegistryLeaveAll(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetGroupRegistryInstance()
	assert.Nil(err)

	uut.Join(MetricGroup("sales"), "conn-1")
	uut.Join(MetricGroup("users"), "conn-1")
	uut.Join(DashboardGroup("main"), "conn-1")
	uut.Join(MetricGroup("sales"), "conn-2")

	uut.LeaveAll("conn-1")
	for _, group := range []string{
		MetricGroup("users"), DashboardGroup("main"),
	} {
		assert.Empty(uut.MembersOf(group))
	}
	assert.ElementsMatch([]string{"conn-2"}, uut.MembersOf(MetricGroup("sales")))
	// Groups with no members left disappear from the active set
	assert.ElementsMatch([]string{MetricGroup("sales")}, uut.ActiveGroups())

	// Safe on a connection with no memberships
	uut.LeaveAll("conn-1")
	uut.LeaveAll("unknown")
}
