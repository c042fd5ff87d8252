// Package server exposes the lifecycle manager over HTTP.
//
// The ingestion pipeline reports writes, operators inspect records and
// pending actions, update policies and trigger cycles:
//
//	POST   /v1/streams/{stream}/writes   {"bytes": N}
//	GET    /v1/streams/{stream}/records
//	GET    /v1/streams/{stream}/actions?at=RFC3339
//	GET    /v1/policies
//	GET    /v1/policies/{stream}
//	PUT    /v1/policies/{stream}         policy file entry
//	DELETE /v1/policies/{stream}
//	POST   /v1/cycles
//	GET    /v1/journal?stream=&run_id=&kind=&status=&since=&until=&limit=&offset=
//
// Health, readiness, version and metrics endpoints are mounted when the
// corresponding options are given. Errors are JSON:
//
//	{"error": {"type": "unknown_stream", "message": "..."}}
package server
