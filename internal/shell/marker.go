package shell

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Marker wire format. The layout is stable and machine-parseable so
// anything scanning session logs can rely on it:
//
//	=== CMD_MARKER_START_<id> ===
//	=== CMD_MARKER_END_<id>:<status> ===
//
// The end marker carries the exit status of the wrapped command:
// persistent-mode execution has no side-channel for the child's exit
// code, so it travels textually through the stream.
const (
	startMarkerPrefix = "=== CMD_MARKER_START_"
	endMarkerPrefix   = "=== CMD_MARKER_END_"
	markerSuffix      = " ==="
)

var markerCounter atomic.Uint64

// Marker frames a single command inside the shared stdout stream.
// One marker is generated per execution and discarded afterwards.
type Marker struct {
	ID string
}

// NewMarker returns a marker whose id is unique across the process
// lifetime: a monotonic counter plus a random suffix, so it cannot
// collide with markers from earlier runs replayed in output.
func NewMarker() Marker {
	n := markerCounter.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return Marker{ID: fmt.Sprintf("%d_%s", n, suffix)}
}

// StartLine returns the start marker line, without trailing newline.
func (m Marker) StartLine() string {
	return startMarkerPrefix + m.ID + markerSuffix
}

// endLinePrefix is the end marker line up to (but excluding) the
// status digits.
func (m Marker) endLinePrefix() string {
	return endMarkerPrefix + m.ID + ":"
}

// Wrap produces the text actually written to the shell: the original
// command bracketed by marker echoes, with $? captured between the
// command and the end marker so the real exit status lands inside the
// end marker line.
func (m Marker) Wrap(command string) string {
	var b strings.Builder
	b.WriteString(`echo "`)
	b.WriteString(m.StartLine())
	b.WriteString("\"\n")
	b.WriteString(command)
	b.WriteString("\n")
	b.WriteString(`__agentshell_rc=$?; echo "`)
	b.WriteString(m.endLinePrefix())
	b.WriteString(`${__agentshell_rc}`)
	b.WriteString(markerSuffix)
	b.WriteString(`"`)
	return b.String()
}

// Frame is the result of scanning buffered output for a marker pair.
type Frame struct {
	// Complete reports whether the end marker line has been observed
	// in full. Body and ExitCode are meaningful only when true.
	Complete bool
	// Body is the output between the marker lines, both stripped.
	Body string
	// ExitCode is the status embedded in the end marker.
	ExitCode int
	// Rest is everything after the end marker line, for stale-drain
	// resynchronization after an abandoned command.
	Rest string
}

// Scan inspects buffered output for this marker's frame. It is called
// incrementally as chunks arrive; a marker line split across read
// chunks simply fails to match until the rest of the line is buffered.
func (m Marker) Scan(buf string) Frame {
	endPrefix := m.endLinePrefix()
	endIdx := strings.Index(buf, endPrefix)
	if endIdx < 0 {
		return Frame{}
	}
	// Require the complete end marker line: status digits, the
	// closing suffix, and the line terminator (or nothing more
	// buffered yet means the echo may still be in flight).
	tail := buf[endIdx+len(endPrefix):]
	suffixIdx := strings.Index(tail, markerSuffix)
	if suffixIdx < 0 {
		return Frame{}
	}
	nl := strings.Index(tail[suffixIdx:], "\n")
	if nl < 0 {
		return Frame{}
	}

	status, err := strconv.Atoi(strings.TrimSpace(tail[:suffixIdx]))
	if err != nil {
		// The shell echoed something unexpected in place of $?.
		// Treat the frame as complete but the status unknown.
		status = -1
	}

	// Body is everything between the marker lines. A command whose
	// output lacks a trailing newline leaves the end marker echo on
	// the same visual line; the prefix is still real output and kept.
	body := buf[:endIdx]
	if startIdx := strings.Index(body, m.StartLine()); startIdx >= 0 {
		after := body[startIdx+len(m.StartLine()):]
		body = strings.TrimPrefix(after, "\r\n")
		body = strings.TrimPrefix(body, "\n")
	}

	return Frame{
		Complete: true,
		Body:     body,
		ExitCode: status,
		Rest:     tail[suffixIdx+nl+1:],
	}
}
