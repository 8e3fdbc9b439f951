// Package signaling implements the room protocol spoken over the relay's
// WebSocket endpoint: create/join requests, peer notifications, and opaque
// signal routing between a room's host and its clients.
//
// Negotiation payloads are never inspected; the relay only moves envelopes.
package signaling
