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
	"errors"

	"github.com/pulseboard/pulseboard/common"
)

// ErrSampleNotFound no sample has been recorded yet for the requested metric
var ErrSampleNotFound = errors.New("no sample recorded for metric")

// SampleStore shared keyed store holding the latest sample per metric.
//
// The stream processor writes into the store; metric sources read from
// it. Only the most recent sample per metric is retained.
type SampleStore interface {
	// Put record a new latest sample for sample.Metric
	Put(sample common.MetricSample, ctxt context.Context) error
	// Latest fetch the most recent sample of a metric
	Latest(metric string, ctxt context.Context) (common.MetricSample, error)
	// Close release the store
	Close() error
}
