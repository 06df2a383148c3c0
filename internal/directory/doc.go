// Package directory owns the short-lived booking and ticket connections that
// resolve where the carriage session lives.
//
// Ownership boundary:
// - CHECKIN against the booking server or one relay candidate
// - GETCONF parsing into relay candidates and transcode profiles
//
// Booking and ticket connections use TLS only; they never negotiate the
// carriage record layer.
package directory
