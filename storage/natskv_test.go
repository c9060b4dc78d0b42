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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/core"
	"github.com/stretchr/testify/assert"
)

func TestNatsSampleStore(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	client, err := core.GetJetStream(core.NATSConnectParams{
		ServerURI:           common.GetUnitTestNatsURI(),
		ConnectTimeout:      time.Second,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
	})
	assert.Nil(err)
	defer client.Close(context.Background())

	bucket := fmt.Sprintf("ut-samples-%s", uuid.New().String())
	uut, err := GetNatsSampleStore(client, bucket)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Close())
		assert.Nil(client.JetStream().DeleteKeyValue(bucket))
	}()

	_, err = uut.Latest("sales", context.Background())
	assert.ErrorIs(err, ErrSampleNotFound)

	// Each Put is also announced on the metric's subject
	watcher, err := client.NATs().SubscribeSync("pulseboard.metric.sales")
	assert.Nil(err)
	defer func() {
		assert.Nil(watcher.Unsubscribe())
	}()

	sample := common.MetricSample{
		Metric:    "sales",
		Data:      common.SamplePayload{Value: 250.25, Label: "Q3"},
		Timestamp: time.Now().UTC(),
	}
	assert.Nil(uut.Put(sample, context.Background()))

	stored, err := uut.Latest("sales", context.Background())
	assert.Nil(err)
	assert.Equal(sample.Metric, stored.Metric)
	assert.Equal(sample.Data, stored.Data)
	assert.True(sample.Timestamp.Equal(stored.Timestamp))

	announcement, err := watcher.NextMsg(time.Second)
	assert.Nil(err)
	var announced common.MetricSample
	assert.Nil(json.Unmarshal(announcement.Data, &announced))
	assert.Equal(sample.Metric, announced.Metric)
	assert.Equal(sample.Data, announced.Data)

	// The newest sample wins
	replacement := common.MetricSample{
		Metric:    "sales",
		Data:      common.SamplePayload{Value: 251.00},
		Timestamp: sample.Timestamp.Add(time.Second),
	}
	assert.Nil(uut.Put(replacement, context.Background()))
	stored, err = uut.Latest("sales", context.Background())
	assert.Nil(err)
	assert.Equal(replacement.Data, stored.Data)

	// Other metrics remain unknown
	_, err = uut.Latest("users", context.Background())
	assert.ErrorIs(err, ErrSampleNotFound)
}
