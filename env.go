package callshim

import (
	"strings"
)

const preloadVar = "LD_PRELOAD"

// PreloadEnv returns a copy of env with object placed first in LD_PRELOAD,
// so the loader resolves the object's definitions ahead of every other
// library. Existing entries are kept after it, without duplicates.
func PreloadEnv(env []string, object string) []string {
	out := make([]string, 0, len(env)+1)
	var existing string
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if key == preloadVar {
			existing = value
			continue
		}
		out = append(out, kv)
	}

	entries := []string{object}
	for _, entry := range strings.FieldsFunc(existing, func(r rune) bool {
		return r == ' ' || r == ':'
	}) {
		if entry != object {
			entries = append(entries, entry)
		}
	}
	return append(out, preloadVar+"="+strings.Join(entries, " "))
}

// SetEnv returns a copy of env with key set to value.
func SetEnv(env []string, key, value string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok && k == key {
			continue
		}
		out = append(out, kv)
	}
	return append(out, key+"="+value)
}
