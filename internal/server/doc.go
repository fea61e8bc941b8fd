// Package server exposes the HTTP surface: WebSocket entry points for
// graph and world rooms, health endpoints and the metrics route. The
// connect pipeline runs ticket verification and role resolution before
// a single data frame is exchanged.
package server
