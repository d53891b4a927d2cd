package safeio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrPathTraversal is returned when a path would escape its base directory.
var ErrPathTraversal = errors.New("path traversal detected")

// JoinContained joins remote-controlled path segments (CMS folder names, file
// names) below baseDir. Segments may contain slashes; empty and "." segments are
// dropped and any ".." segment is rejected.
func JoinContained(baseDir string, segments ...string) (string, error) {
	parts := []string{baseDir}
	for _, segment := range segments {
		for _, part := range strings.Split(filepath.ToSlash(segment), "/") {
			switch part {
			case "", ".":
				continue
			case "..":
				return "", ErrPathTraversal
			}
			if strings.ContainsRune(part, 0) {
				return "", fmt.Errorf("invalid path segment %q", part)
			}
			parts = append(parts, part)
		}
	}
	joined := filepath.Join(parts...)
	if _, err := relWithin(baseDir, joined); err != nil {
		return "", err
	}
	return joined, nil
}

// ReadFileContained reads a file only if it is contained within baseDir.
func ReadFileContained(baseDir, filePath string) ([]byte, error) {
	filePathAbs, err := relWithin(baseDir, filePath)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- filePathAbs has been verified to be contained within baseDir
	return os.ReadFile(filePathAbs)
}

func relWithin(baseDir, filePath string) (string, error) {
	baseDirAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", errors.New("failed to resolve base directory")
	}
	filePathAbs, err := filepath.Abs(filePath)
	if err != nil {
		return "", errors.New("failed to resolve file path")
	}
	rel, err := filepath.Rel(baseDirAbs, filePathAbs)
	if err != nil {
		return "", errors.New("failed to compute relative path")
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", errors.New("file path is outside base directory")
	}
	return filePathAbs, nil
}

// WriteFileAtomic replaces path with content through a synced temp file and a
// rename, so readers see either the old or the new file, never a torn write.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	_, err := CopyAtomic(path, bytes.NewReader(content), mode)
	return err
}

// CopyAtomic streams r into path atomically and reports the byte count. The
// temp file lives next to path and is removed when copying fails.
func CopyAtomic(path string, r io.Reader, mode os.FileMode) (int64, error) {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	if err := os.MkdirAll(parent, 0o750); err != nil {
		return 0, fmt.Errorf("create parent directory: %w", err)
	}

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	n, err := io.Copy(tempFile, r)
	if err != nil {
		_ = tempFile.Close()
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		_ = tempFile.Close()
		return n, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return n, fmt.Errorf("rename temp file: %w", err)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return n, fmt.Errorf("remove destination before rename: %w", removeErr)
		}
		if renameErr := os.Rename(tempPath, path); renameErr != nil {
			return n, fmt.Errorf("rename temp file after remove: %w", renameErr)
		}
	}
	cleanup = false
	return n, nil
}
