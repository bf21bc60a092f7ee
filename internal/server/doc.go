// Package server implements the HTTP API: chunked audio upload, the
// end-of-recording signal that triggers the ingestion pipeline, status and
// plan queries, and monitoring/management endpoints.
package server
