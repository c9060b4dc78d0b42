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

package metrics

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/common"
)

// Ingester produces a fresh sample for a metric on demand.
//
// The stream processor calls this once per metric per cycle.
type Ingester interface {
	Ingest(metric string, ctxt context.Context) (common.MetricSample, error)
}

// randomWalkIngester implements Ingester with a bounded random walk per
// metric. Stands in for the upstream analytics computation.
type randomWalkIngester struct {
	lock     sync.Mutex
	rand     *rand.Rand
	current  map[string]float64
	initial  float64
	maxStep  float64
	timeBase func() time.Time
}

// GetRandomWalkIngester define an Ingester generating synthetic samples
func GetRandomWalkIngester(seed int64) (Ingester, error) {
	return &randomWalkIngester{
		rand:     rand.New(rand.NewSource(seed)),
		current:  make(map[string]float64),
		initial:  100.0,
		maxStep:  10.0,
		timeBase: time.Now,
	}, nil
}

// Ingest produce the next value on the metric's walk
func (g *randomWalkIngester) Ingest(
	metric string, ctxt context.Context,
) (common.MetricSample, error) {
	if err := ctxt.Err(); err != nil {
		return common.MetricSample{}, err
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	value, ok := g.current[metric]
	if !ok {
		value = g.initial
	}
	value += (g.rand.Float64()*2 - 1) * g.maxStep
	if value < 0 {
		value = 0
	}
	g.current[metric] = value
	return common.MetricSample{
		Metric:    metric,
		Data:      common.SamplePayload{Value: value},
		Timestamp: g.timeBase().UTC(),
	}, nil
}
