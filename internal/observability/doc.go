// Package observability owns process metrics and HTTP request logging for the
// status surface.
//
// Ownership boundary:
// - prometheus collectors for wire, reconnect, upload and room pipeline events
// - gin middleware for request logs and metrics
package observability
