// Package workspace implements the workspace path policy, persisted spec
// artifacts, file manifests, and ZIP export.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// MaxPathLength caps user-supplied workspace paths.
const MaxPathLength = 500

// ErrPathRejected wraps every path policy violation.
var ErrPathRejected = errors.New("workspace path rejected")

// blockedRoots are system locations a user workspace may never resolve into.
// Matching is by path prefix; on Windows the comparison is case-insensitive.
var blockedRoots = []string{
	"/bin", "/sbin", "/usr", "/etc", "/var", "/boot",
	"/lib", "/lib64", "/proc", "/sys", "/dev", "/root",
}

var blockedWindowsRoots = []string{
	`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`, `C:\ProgramData`,
}

// blockedHomeSubdirs are sensitive directories inside the user's home.
var blockedHomeSubdirs = []string{
	".ssh", ".aws", ".gnupg", filepath.Join(".config", "gcloud"),
}

// ValidatePath checks a user-supplied workspace path against the policy and
// returns the cleaned absolute path. allowRoot, when non-empty, becomes the
// strict allow-root (ELISA_WORKSPACE_ROOT). The OS temp dir is always allowed.
func ValidatePath(path, allowRoot string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is empty", ErrPathRejected)
	}
	if len(path) > MaxPathLength {
		return "", fmt.Errorf("%w: path exceeds %d characters", ErrPathRejected, MaxPathLength)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: path contains a null byte", ErrPathRejected)
	}
	if strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//") {
		return "", fmt.Errorf("%w: UNC paths are not allowed", ErrPathRejected)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathRejected, err)
	}
	resolved := filepath.Clean(abs)
	if containsDotDot(resolved) {
		return "", fmt.Errorf("%w: path escapes its root", ErrPathRejected)
	}

	// Temp is always fine, and the strict allow-root short-circuits the rest.
	if isWithin(resolved, os.TempDir()) {
		return resolved, nil
	}
	if allowRoot != "" {
		if !isWithin(resolved, allowRoot) {
			return "", fmt.Errorf("%w: path is outside the configured workspace root", ErrPathRejected)
		}
		return resolved, nil
	}

	for _, root := range blockedRoots {
		if isWithin(resolved, root) {
			return "", fmt.Errorf("%w: %s is a blocked system location", ErrPathRejected, root)
		}
	}
	if runtime.GOOS == "windows" {
		lower := strings.ToLower(resolved)
		for _, root := range blockedWindowsRoots {
			if strings.HasPrefix(lower, strings.ToLower(root)) {
				return "", fmt.Errorf("%w: %s is a blocked system location", ErrPathRejected, root)
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		for _, sub := range blockedHomeSubdirs {
			if isWithin(resolved, filepath.Join(home, sub)) {
				return "", fmt.Errorf("%w: %s is a blocked user directory", ErrPathRejected, sub)
			}
		}
	}

	return resolved, nil
}

func containsDotDot(path string) bool {
	for _, seg := range strings.Split(path, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isWithin(path, root string) bool {
	root = filepath.Clean(root)
	if root == "" || root == "." {
		return false
	}
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// CreateTemp creates an orchestrator-owned workspace under the OS temp dir.
func CreateTemp(sessionID string) (string, error) {
	dir, err := os.MkdirTemp("", "elisa-"+sessionID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes an orchestrator-created workspace. It is a no-op when the
// directory was never created or is already gone, and is safe to call twice.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(path)
}

// IsUnderTemp reports whether a path resolves inside the OS temp dir.
func IsUnderTemp(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return isWithin(filepath.Clean(abs), os.TempDir())
}
