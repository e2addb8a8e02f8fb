// Package ws provides the WebSocket endpoint for tool execution.
//
// Clients send JSON frames {"type": "execute", "tool_id": ..., "params":
// ...} and receive exec_start, result, and error frames in response.
// Failed tool calls that still produced a result (timeouts, nonzero
// exits) are delivered as result frames so partial output survives the
// trip.
package ws
