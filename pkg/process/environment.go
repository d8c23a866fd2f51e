package process

import (
	"sort"
	"strings"
)

// DefaultPath is given to the target when the filtered environment has no PATH.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// EnvAllowList declares which variables may reach the target: an exact-name
// set plus a set of name prefixes.
type EnvAllowList struct {
	Names    map[string]struct{}
	Prefixes []string
}

func NewEnvAllowList(names []string, prefixes []string) EnvAllowList {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return EnvAllowList{
		Names:    set,
		Prefixes: append([]string(nil), prefixes...),
	}
}

// DefaultEnvAllowList admits locale, identity and temp-dir variables only.
func DefaultEnvAllowList() EnvAllowList {
	return NewEnvAllowList(
		[]string{"PATH", "HOME", "USER", "LOGNAME", "LANG", "LANGUAGE", "TZ", "TMPDIR"},
		[]string{"LC_", "SANDBOX_"},
	)
}

// Allows reports whether name is admitted by the allow-list
func (a EnvAllowList) Allows(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := a.Names[name]; ok {
		return true
	}
	for _, prefix := range a.Prefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Filter returns the admitted subset of env. PATH is always present in
// the result.
func (a EnvAllowList) Filter(env map[string]string) map[string]string {
	filtered := make(map[string]string, len(env)+1)
	for name, value := range env {
		if a.Allows(name) {
			filtered[name] = value
		}
	}
	if _, ok := filtered["PATH"]; !ok {
		filtered["PATH"] = DefaultPath
	}
	return filtered
}

// ParseEnviron converts KEY=VALUE entries into a map. Entries without '='
// are dropped; later duplicates win, as with execve.
func ParseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

// Environ renders env as sorted KEY=VALUE entries.
func Environ(env map[string]string) []string {
	entries := make([]string, 0, len(env))
	for name, value := range env {
		entries = append(entries, name+"="+value)
	}
	sort.Strings(entries)
	return entries
}
