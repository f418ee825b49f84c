// Package security validates untrusted names and paths before they reach
// the filesystem.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxCaptureIDLen bounds a capture id, which becomes a directory name.
const MaxCaptureIDLen = 128

// ErrUnsafeCaptureID is returned for ids that cannot be used as a single
// directory name.
var ErrUnsafeCaptureID = errors.New("unsafe capture id")

// ValidateCaptureID checks that id is usable as exactly one path element.
// Allowed characters are ASCII letters, digits, dot, underscore, dash and
// colon; a leading dot is rejected so ids cannot name hidden or parent
// directories.
func ValidateCaptureID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeCaptureID)
	}
	if len(id) > MaxCaptureIDLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrUnsafeCaptureID, len(id), MaxCaptureIDLen)
	}
	if id[0] == '.' {
		return fmt.Errorf("%w: %q starts with a dot", ErrUnsafeCaptureID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-' || r == ':':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrUnsafeCaptureID, id, r)
		}
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir,
// following symlinks on the longest existing prefix of the path.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in the deepest existing ancestor of p and
// re-attaches the components that do not exist yet.
func canonicalize(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, p)
			return filepath.Join(resolved, rel)
		}
		if next := filepath.Dir(dir); next == dir {
			return p
		}
	}
}

// ValidateOutputPath checks that a tool output file lands in the working
// directory, the temp directory or one of extraDirs.
func ValidateOutputPath(filePath string, extraDirs ...string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	allowed := append([]string{os.TempDir(), cwd}, extraDirs...)
	for _, dir := range allowed {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of the allowed directories: %v", allowed)
}
