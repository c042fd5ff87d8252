package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys.
const (
	AttrRunID      = attribute.Key("ilm.run_id")
	AttrTrigger    = attribute.Key("ilm.trigger")
	AttrStream     = attribute.Key("ilm.stream")
	AttrIndex      = attribute.Key("ilm.index")
	AttrGeneration = attribute.Key("ilm.generation")
	AttrAction     = attribute.Key("ilm.action")
	AttrReason     = attribute.Key("ilm.reason")
	AttrStatus     = attribute.Key("ilm.status")
	AttrAttempts   = attribute.Key("ilm.attempts")
	AttrBackend    = attribute.Key("ilm.backend")
	AttrArchiver   = attribute.Key("ilm.archiver")
	AttrRequestID  = attribute.Key("ilm.request_id")

	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
	AttrURLPath    = attribute.Key("url.path")
)
