// Package logging provides structured logging built on zap.
//
// Production output is JSON with lowercase levels and ISO 8601
// timestamps. Development output is colorized console format with
// stack traces enabled. Session and command lifecycle events are
// logged through this package so output stays machine-parseable.
package logging
