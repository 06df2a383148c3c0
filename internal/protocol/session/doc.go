// Package session owns one wire connection: dial, TLS, the optional secure
// record layer, request/response correlation, and push delivery.
//
// Ownership boundary:
// - connection state machine (idle, connecting, ready, closing, closed)
// - pending request table keyed by packet id
// - push channel and one-shot push subscriptions
// - retry/backoff primitives shared with the reconnect loop
//
// A Conn never outlives its socket. Callers that need a fresh connection
// dial a new Conn.
package session
