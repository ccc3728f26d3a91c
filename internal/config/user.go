package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidUser reports a user identifier that cannot be substituted into
// path templates safely.
var ErrInvalidUser = errors.New("invalid user identifier")

// NormalizeUser trims and NFC-normalizes a user identifier and rejects values
// that would escape or collide with the templated directory layout.
func NormalizeUser(user string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(user))
	switch {
	case normalized == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidUser)
	case normalized == "." || normalized == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidUser, normalized)
	case strings.ContainsAny(normalized, `/\`+"\x00"):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidUser, normalized)
	case strings.Contains(normalized, UserToken):
		return "", fmt.Errorf("%w: %q contains %s", ErrInvalidUser, normalized, UserToken)
	}
	return normalized, nil
}

// ForUser returns an independent copy of the template with {USER} replaced in
// every path field.
func (c *Config) ForUser(user string) (*Config, error) {
	normalized, err := NormalizeUser(user)
	if err != nil {
		return nil, err
	}
	clone := c.Clone()
	clone.WatchDirectory = substitute(clone.WatchDirectory, normalized)
	clone.QueueDirectory = substitute(clone.QueueDirectory, normalized)
	for name, entry := range clone.Mapping {
		entry.ExecutablePath = substitute(entry.ExecutablePath, normalized)
		entry.OutputDirectory = substitute(entry.OutputDirectory, normalized)
		clone.Mapping[name] = entry
	}
	return clone, nil
}

func substitute(path, user string) string {
	return strings.ReplaceAll(path, UserToken, user)
}

// SweepRoot returns the directory a global sweep should scan for a path
// template: the path itself when it has no {USER} token, otherwise the
// directory preceding the first token. It reports false when the token is
// the first path element and no safe root exists.
func SweepRoot(path string) (string, bool) {
	idx := strings.Index(path, UserToken)
	if idx < 0 {
		return path, path != ""
	}
	if idx == 0 {
		return "", false
	}
	parent := strings.TrimRight(path[:idx], `/\`)
	if parent == "" {
		return "", false
	}
	// A token embedded mid-name ("/data/in-{USER}") sweeps the enclosing directory.
	if !strings.HasSuffix(path[:idx], "/") && !strings.HasSuffix(path[:idx], `\`) {
		parent = filepath.Dir(parent)
		if parent == "/" || parent == "." {
			return "", false
		}
	}
	return parent, true
}

// UserFromPath extracts the user segment from a concrete path that was
// produced by substituting into template. It reports false when path does not
// follow the template's layout up to and including the {USER} segment.
func UserFromPath(template, path string) (string, bool) {
	idx := strings.Index(template, UserToken)
	if idx < 0 {
		return "", false
	}
	prefix := template[:idx]
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	suffix := template[idx+len(UserToken):]
	if end := strings.IndexAny(suffix, `/\`); end >= 0 {
		suffix = suffix[:end]
	}
	segment := rest
	if end := strings.IndexAny(rest, `/\`); end >= 0 {
		segment = rest[:end]
	}
	if !strings.HasSuffix(segment, suffix) {
		return "", false
	}
	user := strings.TrimSuffix(segment, suffix)
	if _, err := NormalizeUser(user); err != nil {
		return "", false
	}
	return user, true
}
