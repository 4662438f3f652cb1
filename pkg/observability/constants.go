// Package observability wires OpenTelemetry metrics and tracing.
package observability

// Span names.
const (
	SpanQuery         = "docqa.query"
	SpanToolExecution = "docqa.tool_execution"
	SpanLLMRequest    = "docqa.llm_request"
	SpanIndexBuild    = "docqa.index_build"
	SpanHTTPRequest   = "http.request"
)

// Attribute keys.
const (
	AttrToolName       = "tool.name"
	AttrToolQuery      = "tool.query"
	AttrLLMModel       = "llm.model"
	AttrDocumentPath   = "document.path"
	AttrQueryMode      = "query.mode"
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
)

const (
	DefaultServiceName  = "docqa"
	instrumentationName = "github.com/kadirpekel/docqa"
)
