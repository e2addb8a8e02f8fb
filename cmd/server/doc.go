// Command server runs the agentshell HTTP service: persistent shell
// sessions with environment tracking, exposed over REST and WebSocket.
//
// Configuration comes from environment variables (see
// internal/infrastructure/config); the -port, -shell, and -dev flags
// override the common ones.
package main
