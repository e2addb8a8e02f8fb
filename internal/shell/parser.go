package shell

import (
	"regexp"
	"strings"
)

// exportPattern matches `export NAME=VALUE` occurrences in literal
// command text. The value may be single-quoted, double-quoted, or bare
// up to the next whitespace.
var exportPattern = regexp.MustCompile(`\bexport\s+([A-Za-z_][A-Za-z0-9_]*)=('[^']*'|"[^"]*"|[^\s;|&]*)`)

// expandPattern matches $NAME and ${NAME} references.
var expandPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// dumpPattern matches one line of `export -p` / `declare -x` / `env`
// style output, splitting on the first '='.
var dumpPattern = regexp.MustCompile(`^(?:declare -x |export )?([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// PredictExports scans literal command text for export statements and
// returns the variable assignments it can infer, with $NAME / ${NAME}
// references expanded against env. Later exports win on key collision,
// and exports chained in the same command see earlier ones.
//
// This is a heuristic, not an interpreter: conditionals, here-docs,
// command substitution, and exports performed inside functions or
// subshells are invisible to it. A miss means the variable is simply
// not tracked until the next authoritative resync. The function is
// total: any input yields a (possibly empty) map, never an error.
func PredictExports(command string, env *Environ) map[string]string {
	matches := exportPattern.FindAllStringSubmatch(command, -1)
	if len(matches) == 0 {
		return nil
	}

	predicted := make(map[string]string, len(matches))
	lookup := func(name string) (string, bool) {
		if v, ok := predicted[name]; ok {
			return v, true
		}
		if env != nil {
			return env.Get(name)
		}
		return "", false
	}

	for _, m := range matches {
		name, raw := m[1], m[2]
		value := stripQuotes(raw)
		predicted[name] = expandRefs(value, lookup)
	}
	return predicted
}

// LiteralExports is PredictExports without reference expansion: the
// assignment text exactly as written, quotes stripped. Comparing a dump
// entry against it tells whether the shell stored the value verbatim.
func LiteralExports(command string) map[string]string {
	matches := exportPattern.FindAllStringSubmatch(command, -1)
	if len(matches) == 0 {
		return nil
	}
	literal := make(map[string]string, len(matches))
	for _, m := range matches {
		literal[m[1]] = stripQuotes(m[2])
	}
	return literal
}

// ParseDump parses the line-oriented output of an environment-listing
// command (`export -p`, `declare -x`, or plain `env`) into an
// environment model. Values keep everything after the first '=' on the
// same line; multi-line values are best-effort (first line only).
// Unparseable lines are skipped.
func ParseDump(dump string) *Environ {
	env := NewEnviron()
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimRight(line, "\r")
		m := dumpPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		env.Set(m[1], unescapeDumpValue(stripQuotes(m[2])))
	}
	return env
}

// stripQuotes removes one matching pair of surrounding single or
// double quotes, if present.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// unescapeDumpValue reverses the backslash escaping `export -p`
// applies inside double-quoted values.
func unescapeDumpValue(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '$', '`', '\\':
				i++
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// expandRefs replaces $NAME / ${NAME} references using lookup.
// Undefined references are left verbatim rather than erased.
func expandRefs(value string, lookup func(string) (string, bool)) string {
	return expandPattern.ReplaceAllStringFunc(value, func(ref string) string {
		name := strings.TrimPrefix(ref, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		if v, ok := lookup(name); ok {
			return v
		}
		return ref
	})
}
