// Package api exposes the REST surface: repository registration,
// GitHub webhook ingest, and run queries.
//
// All routes live under /api/v1. Error bodies are {"error": "..."}
// JSON; Pipefile rejections additionally carry the source line and
// column of the first error.
package api
