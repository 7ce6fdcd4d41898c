package plan

import (
	"regexp"
	"strings"
)

// StatePrefix marks an input value as a reference to another step's saved output.
const StatePrefix = "@state:"

// stateRefPattern matches @state:<key> optionally followed by .<subpath>.
var stateRefPattern = regexp.MustCompile(`@state:([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)`)

// stateKeyPattern is the alphabet of one reference segment.
var stateKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidStateKey reports whether key can be named by a @state: reference.
func ValidStateKey(key string) bool {
	return stateKeyPattern.MatchString(key)
}

// StateRef is one @state: occurrence found in an input value.
type StateRef struct {
	Raw     string // full matched text, e.g. "@state:notes.summary"
	Key     string // head segment, e.g. "notes"
	Subpath string // remaining dotted path, e.g. "summary"; empty when absent
}

// Namespaced reports whether the reference has more than one path segment.
func (r StateRef) Namespaced() bool {
	return r.Subpath != ""
}

// Path returns the full dotted path after the prefix.
func (r StateRef) Path() string {
	if r.Subpath == "" {
		return r.Key
	}
	return r.Key + "." + r.Subpath
}

// FindStateRefs returns every @state: reference in value, in textual order.
func FindStateRefs(value string) []StateRef {
	matches := stateRefPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]StateRef, 0, len(matches))
	for _, m := range matches {
		key, sub, _ := strings.Cut(m[1], ".")
		refs = append(refs, StateRef{Raw: m[0], Key: key, Subpath: sub})
	}
	return refs
}

// ParseStateRef parses a value that consists of exactly one reference.
func ParseStateRef(value string) (StateRef, bool) {
	refs := FindStateRefs(value)
	if len(refs) != 1 || refs[0].Raw != value {
		return StateRef{}, false
	}
	return refs[0], true
}
