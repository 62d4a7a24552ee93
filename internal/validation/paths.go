package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathHandler validates the on-disk locations neows writes to: the
// snapshot archive, the search index and the log file.
type PathHandler struct {
	// AllowedBaseDirs restricts paths to these directories; empty allows all
	AllowedBaseDirs []string
	MaxPathLength   int
}

// NewSecurePathHandler restricts paths to the neows data and config
// directories and the temp dir.
func NewSecurePathHandler() *PathHandler {
	homeDir, _ := os.UserHomeDir()
	return &PathHandler{
		AllowedBaseDirs: []string{
			filepath.Join(homeDir, ".neows"),
			filepath.Join(homeDir, ".config", "neows"),
			os.TempDir(),
		},
		MaxPathLength: 4096,
	}
}

// NewPermissivePathHandler only rejects malformed paths.
func NewPermissivePathHandler() *PathHandler {
	return &PathHandler{MaxPathLength: 4096}
}

// ExpandAndValidatePath expands ~/, makes the path absolute and checks it.
func (ph *PathHandler) ExpandAndValidatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(path) > ph.MaxPathLength {
		return "", fmt.Errorf("path too long (max %d characters)", ph.MaxPathLength)
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("path contains null bytes")
	}
	for _, char := range path {
		if char < 32 && char != '\t' {
			return "", fmt.Errorf("path contains control characters")
		}
	}
	for _, component := range strings.Split(filepath.ToSlash(path), "/") {
		if component == ".." {
			return "", fmt.Errorf("directory traversal not allowed")
		}
	}

	if len(path) >= 2 && path[:2] == "~/" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	} else if strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("invalid tilde usage")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %w", err)
	}

	if err := ph.validateBaseDirs(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (ph *PathHandler) validateBaseDirs(absPath string) error {
	if len(ph.AllowedBaseDirs) == 0 {
		return nil
	}

	for _, baseDir := range ph.AllowedBaseDirs {
		absBaseDir, err := filepath.Abs(baseDir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBaseDir, absPath)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("path not within allowed directories: %v", ph.AllowedBaseDirs)
}

// PrepareFile validates a file path and creates its parent directory.
func (ph *PathHandler) PrepareFile(path string) (string, error) {
	validated, err := ph.ExpandAndValidatePath(path)
	if err != nil {
		return "", err
	}

	if info, statErr := os.Stat(validated); statErr == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", validated)
	}

	if err := os.MkdirAll(filepath.Dir(validated), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	return validated, nil
}

// PrepareDirectory validates a directory path. With create set, a missing
// directory is created; an existing non-directory is an error either way.
func (ph *PathHandler) PrepareDirectory(path string, create bool) (string, error) {
	validated, err := ph.ExpandAndValidatePath(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(validated)
	switch {
	case err == nil && !info.IsDir():
		return "", fmt.Errorf("path exists but is not a directory: %s", validated)
	case err == nil:
		return validated, nil
	case !os.IsNotExist(err):
		return "", fmt.Errorf("checking directory: %w", err)
	}

	if create {
		if mkErr := os.MkdirAll(validated, 0o755); mkErr != nil {
			return "", fmt.Errorf("failed to create directory: %w", mkErr)
		}
	}
	return validated, nil
}
