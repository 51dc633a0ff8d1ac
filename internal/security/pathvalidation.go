// Package security validates filesystem paths before the daemon writes
// to them. Plot output directories are derived from capture filenames
// and can be requested over the monitor API, so every write location is
// checked against an allowed root first.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports whether path stays inside root
// once cleaned, made absolute and stripped of symlinks. Paths that do
// not exist yet are resolved through their nearest existing ancestor,
// so a symlinked parent cannot redirect the write elsewhere.
func ValidatePathWithinDirectory(path, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolve root symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("path outside %s: %w", root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, root)
	}
	return nil
}

// canonicalize resolves symlinks in absPath. When the path does not
// exist, the nearest existing ancestor is resolved instead and the
// remaining components are rejoined onto it.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for dir := filepath.Dir(absPath); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, relErr := filepath.Rel(dir, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		if dir == filepath.Dir(dir) {
			return absPath
		}
	}
}

// ValidateExportPath accepts paths under the system temp directory or
// the working directory, the two places the daemon writes plots and
// other run artifacts.
func ValidateExportPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	for _, root := range []string{os.TempDir(), cwd} {
		if ValidatePathWithinDirectory(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("export path %s must stay under the temp or working directory", path)
}

// SanitizeFilename reduces an arbitrary identifier, typically a capture
// filename, to ASCII letters, digits, dot, underscore and dash so it
// can be embedded in an output path. Runs of other characters collapse
// to a single underscore and the result is capped at 128 characters.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
