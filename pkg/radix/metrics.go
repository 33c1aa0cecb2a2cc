// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package radix

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine activity. A nil *Metrics records nothing.
type Metrics struct {
	RowsShuffled  prometheus.Counter
	BytesShuffled prometheus.Counter
	BucketsSorted prometheus.Counter
	StageSeconds  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsShuffled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "radix",
				Name:      "rows_shuffled_total",
				Help:      "rows shipped to bucket owners",
			}),
		BytesShuffled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "radix",
				Name:      "bytes_shuffled_total",
				Help:      "compressed bytes of shuffled batches",
			}),
		BucketsSorted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "radix",
				Name:      "buckets_sorted_total",
				Help:      "non empty buckets sorted by their owners",
			}),
		StageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "radix",
				Name:      "stage_seconds",
				Help:      "radix stage durations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
			}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.RowsShuffled, m.BytesShuffled, m.BucketsSorted, m.StageSeconds)
	}
	return m
}

func (m *Metrics) addShuffled(rows int64, bytes int) {
	if m == nil {
		return
	}
	m.RowsShuffled.Add(float64(rows))
	m.BytesShuffled.Add(float64(bytes))
}

func (m *Metrics) bucketSorted() {
	if m == nil {
		return
	}
	m.BucketsSorted.Inc()
}

func (m *Metrics) observeStage(stage Stage, start time.Time) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}
