package utils

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Input size limits (in bytes). Commands and values stream through the
// shell's stdin, so oversized inputs are rejected before they are sent.
const (
	MaxCommandSize  = 256 * 1024
	MaxVarValueSize = 128 * 1024
	MaxEnvCount     = 1024
	MaxToolIDLength = 128
	MaxVarNameLen   = 256
)

var (
	// ToolIDPattern allows alphanumeric, hyphens, underscores, and dots
	// (for the service.tool format).
	ToolIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// VarNamePattern matches POSIX environment variable names.
	VarNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidateToolID checks a namespaced tool identifier.
func ValidateToolID(toolID string) error {
	if toolID == "" {
		return fmt.Errorf("tool_id cannot be empty")
	}
	if len(toolID) > MaxToolIDLength {
		return fmt.Errorf("tool_id exceeds %d characters", MaxToolIDLength)
	}
	if !ToolIDPattern.MatchString(toolID) {
		return fmt.Errorf("tool_id contains invalid characters")
	}
	return nil
}

// ValidateCommand checks command text before it is written to a shell.
func ValidateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if len(command) > MaxCommandSize {
		return fmt.Errorf("command size %d bytes exceeds maximum %d bytes", len(command), MaxCommandSize)
	}
	if !utf8.ValidString(command) {
		return fmt.Errorf("command is not valid UTF-8")
	}
	return nil
}

// ValidateVarName checks an environment variable name.
func ValidateVarName(name string) error {
	if name == "" {
		return fmt.Errorf("variable name cannot be empty")
	}
	if len(name) > MaxVarNameLen {
		return fmt.Errorf("variable name exceeds %d characters", MaxVarNameLen)
	}
	if !VarNamePattern.MatchString(name) {
		return fmt.Errorf("invalid variable name: %q", name)
	}
	return nil
}

// ValidateVarValue checks an environment variable value.
func ValidateVarValue(value string) error {
	if len(value) > MaxVarValueSize {
		return fmt.Errorf("variable value size %d bytes exceeds maximum %d bytes", len(value), MaxVarValueSize)
	}
	return nil
}

// ValidateEnv checks an environment overlay as a whole.
func ValidateEnv(env map[string]string) error {
	if len(env) > MaxEnvCount {
		return fmt.Errorf("environment has %d entries, maximum is %d", len(env), MaxEnvCount)
	}
	for name, value := range env {
		if err := ValidateVarName(name); err != nil {
			return err
		}
		if err := ValidateVarValue(value); err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
	}
	return nil
}
