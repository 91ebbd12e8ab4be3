// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestCounterVecs verifies label handling on the outcome counters.
func TestCounterVecs(t *testing.T) {
	IngestTotal.Reset()
	SecurityRejections.Reset()

	IngestTotal.WithLabelValues("accepted").Inc()
	IngestTotal.WithLabelValues("accepted").Inc()
	IngestTotal.WithLabelValues("duplicate").Inc()
	SecurityRejections.WithLabelValues("bounce_attack").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(IngestTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(IngestTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SecurityRejections.WithLabelValues("bounce_attack")))
	assert.Equal(t, 2, testutil.CollectAndCount(IngestTotal))
}

// TestSuppressionFailures verifies the plain counter.
func TestSuppressionFailures(t *testing.T) {
	before := testutil.ToFloat64(SuppressionFailures)
	SuppressionFailures.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SuppressionFailures))
}
