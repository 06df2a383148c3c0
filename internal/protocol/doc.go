// Package protocol owns the wire contract shared by every connection role.
//
// Ownership boundary:
// - error kinds surfaced by transports and verbs
// - request and push method tokens
// - remote status extraction
//
// Subpackages:
// - body: BSON body values and fallible field accessors
// - frame: packet header codec and the framed byte stream
// - secure: post-TLS symmetric record layer for carriage connections
// - session: one connection with request correlation and push delivery
package protocol
