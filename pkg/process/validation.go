package process

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
)

// Messages surfaced to callers verbatim in the error payload.
const (
	MessageFileNotFound      = "File not found"
	MessageFileNotExecutable = "File not executable"
)

// ValidateExecutable checks the launch preconditions for path. Anything
// that is not an existing regular file counts as not found.
func ValidateExecutable(path string) error {
	if path == "" {
		return errors.NewNotFoundError(MessageFileNotFound, nil).WithContext("path", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.NewNotFoundError(MessageFileNotFound, err).WithContext("path", path)
	}
	if !info.Mode().IsRegular() {
		return errors.NewNotFoundError(MessageFileNotFound, nil).WithContext("path", path).WithContext("mode", info.Mode().String())
	}

	if err := checkExecutable(path, info); err != nil {
		return errors.NewNotExecutableError(MessageFileNotExecutable, err).WithContext("path", path)
	}
	return nil
}

// ValidateRequest checks the request's executable and working directory.
func ValidateRequest(req *ExecutionRequest) error {
	if req == nil {
		return errors.NewValidationError("execution request cannot be nil", nil)
	}
	if err := ValidateExecutable(req.ExecutablePath()); err != nil {
		return err
	}

	if dir := req.WorkingDirectory(); dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return errors.NewValidationError("working directory not accessible: "+dir, err)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+dir, nil)
		}
	}
	return nil
}

// resolveWorkingDirectory defaults to the executable's own directory.
func resolveWorkingDirectory(req *ExecutionRequest) (string, string, error) {
	absPath, err := filepath.Abs(req.ExecutablePath())
	if err != nil {
		return "", "", errors.NewIOError("failed to get absolute path", err).WithContext("path", req.ExecutablePath())
	}
	workDir := req.WorkingDirectory()
	if workDir == "" {
		workDir = filepath.Dir(absPath)
	}
	return absPath, workDir, nil
}
