// Package secure owns the symmetric record layer negotiated after TLS on
// carriage connections.
//
// Ownership boundary:
// - handshake record encode/decode
// - cipher suite selection (cfb, gcm, chacha)
// - record framing over an established net.Conn
//
// The key exchange is pluggable through Handshaker; the session transport
// never depends on a concrete suite.
package secure
