// Package server wires the HTTP surface: session REST endpoints, the
// service registry endpoints, the WebSocket stream, and the metrics
// exporter. REST handlers dispatch through the same registry path as
// WebSocket clients so behavior never diverges between the two.
package server
