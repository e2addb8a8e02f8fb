package shell

import "fmt"

// Environ is an in-memory model of a shell's environment variables.
//
// Insertion order is preserved so dumps and startup scripts are
// reproducible. Environ carries no synchronization of its own: it is
// owned by exactly one Session, which serializes access through its
// execution lock.
type Environ struct {
	keys   []string
	values map[string]string
}

// NewEnviron creates an empty environment model.
func NewEnviron() *Environ {
	return &Environ{values: make(map[string]string)}
}

// EnvironFromPairs builds an environment model from KEY=VALUE pairs,
// as produced by os.Environ. Malformed entries are skipped.
func EnvironFromPairs(pairs []string) *Environ {
	e := NewEnviron()
	for _, pair := range pairs {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				e.Set(pair[:i], pair[i+1:])
				break
			}
		}
	}
	return e
}

// Get returns the value for key and whether it is present.
func (e *Environ) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set stores key=value, appending to the insertion order on first set.
// Keys containing '=' or empty keys are ignored.
func (e *Environ) Set(key, value string) {
	if key == "" {
		return
	}
	for i := 0; i < len(key); i++ {
		if key[i] == '=' {
			return
		}
	}
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Delete removes key from the model.
func (e *Environ) Delete(key string) {
	if _, exists := e.values[key]; !exists {
		return
	}
	delete(e.values, key)
	for i, k := range e.keys {
		if k == key {
			e.keys = append(e.keys[:i], e.keys[i+1:]...)
			break
		}
	}
}

// All returns a snapshot copy of the environment.
func (e *Environ) All() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Keys returns the variable names in insertion order.
func (e *Environ) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of tracked variables.
func (e *Environ) Len() int {
	return len(e.values)
}

// CopyFrom overlays every entry of other onto e. Keys absent from
// other are left untouched; callers needing full replacement must
// Clear first.
func (e *Environ) CopyFrom(other *Environ) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		e.Set(k, other.values[k])
	}
}

// Clear removes all entries.
func (e *Environ) Clear() {
	e.keys = e.keys[:0]
	e.values = make(map[string]string)
}

// Clone returns a deep copy of the model.
func (e *Environ) Clone() *Environ {
	c := &Environ{
		keys:   make([]string, len(e.keys)),
		values: make(map[string]string, len(e.values)),
	}
	copy(c.keys, e.keys)
	for k, v := range e.values {
		c.values[k] = v
	}
	return c
}

// Pairs returns the environment as KEY=VALUE strings in insertion
// order, suitable for exec.Cmd.Env.
func (e *Environ) Pairs() []string {
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, fmt.Sprintf("%s=%s", k, e.values[k]))
	}
	return out
}
