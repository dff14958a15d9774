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

// Package metrics defines the Prometheus counters exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
)

var (
	// MessagesPolled counts messages seen by the poller, by result.
	MessagesPolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailagent_messages_polled_total",
		Help: "Inbound messages seen by the poller.",
	}, []string{"result"})

	// TokenRefreshes counts OAuth refresh attempts, by result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailagent_token_refresh_total",
		Help: "OAuth access token refresh attempts.",
	}, []string{"result"})

	// RepliesGenerated counts composed replies, by decision (auto or manual).
	RepliesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailagent_replies_generated_total",
		Help: "Replies composed, split by send decision.",
	}, []string{"decision"})

	// RepliesDispatched counts send attempts, by result.
	RepliesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailagent_replies_dispatched_total",
		Help: "Reply send attempts through the email provider.",
	}, []string{"result"})

	// Failures counts reported component failures, by function.
	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailagent_failures_total",
		Help: "Component failures recorded by the notifier.",
	}, []string{"function"})
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
