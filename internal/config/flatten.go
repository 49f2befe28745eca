package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const keySep = "."

var secretKeys = map[string]bool{
	"telegram.token": true,
}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns {"matcher": {"threshold": 60}} into {"matcher.threshold": 60}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + keySep + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar sitting where a section is
// needed gets replaced by the section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		path := strings.Split(k, keySep)
		node := out
		for _, section := range path[:len(path)-1] {
			child, ok := node[section].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[section] = child
			}
			node = child
		}
		node[path[len(path)-1]] = v
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides all but the last four characters of a secret string.
func MaskValue(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// MaskSecrets returns a copy of flat with every secret key masked.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if secretKeys[k] {
			v = MaskValue(v)
		}
		out[k] = v
	}
	return out
}

// knownKeys is the flattened default configuration. Its values carry the
// JSON type each key must hold.
func knownKeys() map[string]any {
	m, err := ToMap(Defaults())
	if err != nil {
		return map[string]any{}
	}
	return Flatten(m)
}

// coerce converts a raw command-line value to the JSON type of key.
// String keys take the raw text verbatim so tokens like "123" stay strings.
func coerce(key, raw string) (any, error) {
	def, ok := knownKeys()[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if _, isString := def.(string); isString {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q", key, raw)
	}
	if fmt.Sprintf("%T", v) != fmt.Sprintf("%T", def) {
		return nil, fmt.Errorf("invalid value for %s: expected %T, got %q", key, def, raw)
	}
	return v, nil
}
