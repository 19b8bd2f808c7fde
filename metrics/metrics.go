// Copyright 2021 Palantir Technologies, Inc.
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
	"fmt"

	"github.com/rcrowley/go-metrics"
)

const (
	MetricsKeyDeliveries       = "webhook.deliveries"
	MetricsKeyRejected         = "webhook.rejected"
	MetricsKeyInvalid          = "webhook.invalid"
	MetricsKeyHandlerCalls     = "webhook.handler.calls"
	MetricsKeyHandlerErrors    = "webhook.handler.error"
	MetricsKeyTokenRefreshes   = "github.token.refresh"
	MetricsKeyTokenErrors      = "github.token.error"
	MetricsKeyRateLimitRetries = "github.ratelimit.retry"
)

// Counter returns the counter for key in r, tagged by event if it is not
// empty. A nil registry returns a counter that discards updates.
func Counter(r metrics.Registry, key, event string) metrics.Counter {
	if r == nil {
		return metrics.NilCounter{}
	}
	if event != "" {
		key = fmt.Sprintf("%s[event:%s]", key, event)
	}
	return metrics.GetOrRegisterCounter(key, r)
}

func Deliveries(r metrics.Registry, event string) metrics.Counter {
	return Counter(r, MetricsKeyDeliveries, event)
}

func Rejected(r metrics.Registry) metrics.Counter {
	return Counter(r, MetricsKeyRejected, "")
}

func Invalid(r metrics.Registry) metrics.Counter {
	return Counter(r, MetricsKeyInvalid, "")
}

func HandlerCalls(r metrics.Registry, event string) metrics.Counter {
	return Counter(r, MetricsKeyHandlerCalls, event)
}

func HandlerErrors(r metrics.Registry, event string) metrics.Counter {
	return Counter(r, MetricsKeyHandlerErrors, event)
}

func TokenRefreshes(r metrics.Registry) metrics.Counter {
	return Counter(r, MetricsKeyTokenRefreshes, "")
}

func TokenErrors(r metrics.Registry) metrics.Counter {
	return Counter(r, MetricsKeyTokenErrors, "")
}

func RateLimitRetries(r metrics.Registry) metrics.Counter {
	return Counter(r, MetricsKeyRateLimitRetries, "")
}

// GitHubCacheApproxSize registers a gauge reporting the size of the API
// response cache.
func GitHubCacheApproxSize(r metrics.Registry, sizeFn func() int64) metrics.Gauge {
	return metrics.NewRegisteredFunctionalGauge("github.request_cache.approx_size", r, sizeFn)
}
