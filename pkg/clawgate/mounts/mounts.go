// Package mounts validates additional bind-mount requests for agent
// containers. A mount is only accepted when its source resolves to a path
// under one of the configured allowed roots; everything else is rejected
// before any container is spawned.
package mounts

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mount describes a single bind mount request.
type Mount struct {
	// Source is the host path to mount.
	Source string `yaml:"source" json:"source"`

	// Target is the path inside the container.
	Target string `yaml:"target" json:"target"`

	// ReadWrite grants write access. Mounts are read-only by default.
	ReadWrite bool `yaml:"read_write,omitempty" json:"readWrite,omitempty"`
}

// Validator checks mount requests against an allowlist of host roots.
type Validator struct {
	allowedRoots []string
}

// NewValidator creates a validator for the given allowed host roots.
// Roots are cleaned and must be absolute.
func NewValidator(allowedRoots []string) (*Validator, error) {
	cleaned := make([]string, 0, len(allowedRoots))
	for _, root := range allowedRoots {
		root = filepath.Clean(strings.TrimSpace(root))
		if root == "" || root == "." {
			continue
		}
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("allowed mount root %q is not absolute", root)
		}
		cleaned = append(cleaned, root)
	}
	return &Validator{allowedRoots: cleaned}, nil
}

// Validate returns the sanitized mount list, or an error if any requested
// mount falls outside the allowed roots. The returned mounts have cleaned
// absolute source paths; a rejection means the invocation must not spawn.
func (v *Validator) Validate(requested []Mount) ([]Mount, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	sanitized := make([]Mount, 0, len(requested))
	for _, m := range requested {
		src := filepath.Clean(strings.TrimSpace(m.Source))
		if !filepath.IsAbs(src) {
			return nil, fmt.Errorf("mount source %q is not absolute", m.Source)
		}
		// Clean collapses any ".." segments, so a prefix check against the
		// cleaned path is sufficient to contain traversal attempts.
		if !v.allowed(src) {
			return nil, fmt.Errorf("mount source %q is outside the allowed roots", m.Source)
		}

		tgt := filepath.Clean(strings.TrimSpace(m.Target))
		if !filepath.IsAbs(tgt) {
			return nil, fmt.Errorf("mount target %q is not absolute", m.Target)
		}

		sanitized = append(sanitized, Mount{Source: src, Target: tgt, ReadWrite: m.ReadWrite})
	}
	return sanitized, nil
}

// allowed reports whether path is under (or equal to) an allowed root.
func (v *Validator) allowed(path string) bool {
	for _, root := range v.allowedRoots {
		if path == root {
			return true
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
