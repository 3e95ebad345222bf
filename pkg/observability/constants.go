// Copyright 2025 Kadir Pekel
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

// Package observability provides OpenTelemetry tracing and Prometheus metrics.
//
// # Configuration
//
// Configure observability in your stratus.yaml:
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    sampling_rate: 1.0
//	  metrics:
//	    enabled: true
//	    endpoint: /metrics
package observability

// Span names.
const (
	SpanTaskExecute = "stratus.task.execute"
	SpanAgentItem   = "stratus.agent.item"
	SpanHTTPRequest = "stratus.http.request"
)

// Span attributes.
const (
	AttrTaskID        = "stratus.task.id"
	AttrContextID     = "stratus.context.id"
	AttrTaskState     = "stratus.task.state"
	AttrTaskResumed   = "stratus.task.resumed"
	AttrFailureReason = "stratus.task.failure_reason"
	AttrItemKind      = "stratus.agent.item_kind"
	AttrAgentName     = "stratus.agent.name"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_content_length"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Defaults.
const (
	DefaultServiceName  = "stratus"
	DefaultNamespace    = "stratus"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
