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
	"sync"

	"github.com/pulseboard/pulseboard/common"
)

// inMemorySampleStore implements SampleStore with a process local map.
// Used by unit tests and single node deployments without NATS.
type inMemorySampleStore struct {
	lock    sync.RWMutex
	samples map[string]common.MetricSample
}

// GetInMemorySampleStore define a process local SampleStore
func GetInMemorySampleStore() (SampleStore, error) {
	return &inMemorySampleStore{samples: make(map[string]common.MetricSample)}, nil
}

// Put record a new latest sample for sample.Metric
func (s *inMemorySampleStore) Put(sample common.MetricSample, ctxt context.Context) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.samples[sample.Metric] = sample
	return nil
}

// Latest fetch the most recent sample of a metric
func (s *inMemorySampleStore) Latest(metric string, ctxt context.Context) (common.MetricSample, error) {
	if err := ctxt.Err(); err != nil {
		return common.MetricSample{}, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	sample, ok := s.samples[metric]
	if !ok {
		return common.MetricSample{}, ErrSampleNotFound
	}
	return sample, nil
}

// Close release the store
func (s *inMemorySampleStore) Close() error {
	return nil
}
