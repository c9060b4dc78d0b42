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
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/nats-io/nats.go"
	"github.com/pulseboard/pulseboard/common"
	"github.com/pulseboard/pulseboard/core"
)

// natsSampleStore implements SampleStore against a JetStream KV bucket.
//
// Every Put is also announced on the subject "pulseboard.metric.<name>"
// so out-of-process consumers can follow the ingest feed.
type natsSampleStore struct {
	common.Component
	client        core.NatsClient
	kv            nats.KeyValue
	subjectPrefix string
}

// GetNatsSampleStore define a SampleStore backed by a JetStream KV bucket
func GetNatsSampleStore(client core.NatsClient, bucket string) (SampleStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "nats-sample-store", "bucket": bucket,
	}
	kv, err := client.KeyValue(bucket)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to bind KV bucket %s", bucket)
		return nil, err
	}
	return &natsSampleStore{
		Component:     common.Component{LogTags: logTags},
		client:        client,
		kv:            kv,
		subjectPrefix: "pulseboard.metric",
	}, nil
}

// Put record a new latest sample for sample.Metric
func (s *natsSampleStore) Put(sample common.MetricSample, ctxt context.Context) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	serialized, err := json.Marshal(&sample)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to serialize sample for %s", sample.Metric,
		)
		return err
	}
	if _, err := s.kv.Put(sample.Metric, serialized); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to store sample for %s", sample.Metric,
		)
		return err
	}
	// Best effort announcement of the new sample
	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, sample.Metric)
	if err := s.client.Publish(subject, serialized); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to announce sample on %s", subject,
		)
	}
	return nil
}

// Latest fetch the most recent sample of a metric
func (s *natsSampleStore) Latest(metric string, ctxt context.Context) (common.MetricSample, error) {
	if err := ctxt.Err(); err != nil {
		return common.MetricSample{}, err
	}
	entry, err := s.kv.Get(metric)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return common.MetricSample{}, ErrSampleNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to read sample for %s", metric,
		)
		return common.MetricSample{}, err
	}
	var sample common.MetricSample
	if err := json.Unmarshal(entry.Value(), &sample); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Corrupted sample record for %s", metric,
		)
		return common.MetricSample{}, err
	}
	return sample, nil
}

// Close release the store
func (s *natsSampleStore) Close() error {
	return nil
}
