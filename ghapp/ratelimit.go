// Copyright 2026 Palantir Technologies, Inc.
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

package ghapp

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"

	hmetrics "github.com/palantir/hookbot/metrics"
)

const (
	DefaultRateLimitRetries  = 3
	DefaultRateLimitMaxSleep = 60 * time.Second

	baseRateLimitBackoff = 60 * time.Second

	// maxBackoffShift keeps the exponential backoff well below overflow.
	maxBackoffShift = 16
)

// RateLimitRetry creates client middleware that retries requests rejected by
// GitHub's primary or secondary rate limits. Each retry waits for the delay
// GitHub suggests, never more than maxSleep.
func RateLimitRetry(retries int, maxSleep time.Duration, registry metrics.Registry) githubapp.ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			req := r
			for attempt := 0; ; attempt++ {
				res, err := next.RoundTrip(req)
				if err != nil || attempt >= retries || !isRateLimited(res) {
					return res, err
				}

				retry, ok := replayRequest(r)
				if !ok {
					return res, nil
				}

				delay := retryDelay(res, attempt, time.Now(), maxSleep)
				drainBody(res)

				zerolog.Ctx(r.Context()).Warn().
					Str("method", r.Method).
					Str("path", r.URL.String()).
					Int("status", res.StatusCode).
					Int("attempt", attempt+1).
					Dur("delay", delay).
					Msg("GitHub rate limit exceeded, retrying request")
				hmetrics.RateLimitRetries(registry).Inc(1)

				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-r.Context().Done():
					timer.Stop()
					return nil, errors.Wrap(r.Context().Err(), "cancelled while waiting for rate limit")
				}
				req = retry
			}
		})
	}
}

func isRateLimited(res *http.Response) bool {
	switch res.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return res.Header.Get("X-RateLimit-Remaining") == "0"
	}
	return false
}

// retryDelay prefers Retry-After, then the rate limit reset time, then
// exponential backoff.
func retryDelay(res *http.Response, attempt int, now time.Time, maxSleep time.Duration) time.Duration {
	var delay time.Duration
	if v := res.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			if secs > int64(maxSleep/time.Second) {
				return maxSleep
			}
			delay = time.Duration(secs) * time.Second
		}
	} else if v := res.Header.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			delay = time.Unix(reset, 0).Sub(now)
		}
	} else if attempt > maxBackoffShift {
		delay = maxSleep
	} else {
		delay = baseRateLimitBackoff << uint(attempt)
	}

	if delay < 0 {
		delay = 0
	}
	if delay > maxSleep {
		delay = maxSleep
	}
	return delay
}

func replayRequest(r *http.Request) (*http.Request, bool) {
	retry := r.Clone(r.Context())
	if r.Body == nil || r.Body == http.NoBody {
		return retry, true
	}
	if r.GetBody == nil {
		return nil, false
	}

	body, err := r.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

func drainBody(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	_ = res.Body.Close()
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}
