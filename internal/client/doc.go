// Package client is the session orchestrator. A Client owns one carriage
// session at a time and drives the booking lookup, relay checkin, login,
// keepalive and reconnect cycle around it.
//
// Connect sequence:
//   - open booking, GETCONF (failure is logged, not fatal)
//   - CHECKIN against each relay candidate, first success wins
//   - fall back to booking CHECKIN
//   - close booking, dial carriage, LOGINLIST, apply the chat list
//   - INFOLINK for open rooms, start keepalive and push dispatch
//
// Pushes are routed by protocol.PushMethod. MSG pushes additionally pass
// through a rooms.Pipeline so each room is handled in arrival order.
package client
