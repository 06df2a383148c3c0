// Package carriage owns the authenticated verb set spoken over a carriage
// session and the tolerant parsers for the shapes those verbs return.
//
// Ownership boundary:
// - login, keepalive, message write/sync, room and member queries
// - reaction and moderation verbs
// - upload control verbs (SHIP, GETTRAILER, POST)
//
// Every verb reports a non-zero remote status as protocol.RemoteStatusError.
package carriage
