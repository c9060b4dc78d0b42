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

	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/storage"
)

// Source provider of latest known metric samples.
//
// A fetch may be slow or fail. Callers bound each call with the context
// and treat failures as recoverable.
type Source interface {
	Fetch(metric string, ctxt context.Context) (common.MetricSample, error)
}

// storeBackedSource implements Source by reading the shared sample store
type storeBackedSource struct {
	store storage.SampleStore
}

// GetStoreBackedSource define a Source reading from a SampleStore
func GetStoreBackedSource(store storage.SampleStore) (Source, error) {
	return &storeBackedSource{store: store}, nil
}

// Fetch read the latest sample of a metric from the store
func (s *storeBackedSource) Fetch(
	metric string, ctxt context.Context,
) (common.MetricSample, error) {
	return s.store.Latest(metric, ctxt)
}
