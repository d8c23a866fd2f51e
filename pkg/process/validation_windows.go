//go:build windows

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func checkExecutable(path string, info os.FileInfo) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com":
		return nil
	}
	return fmt.Errorf("unrecognised executable extension %q", filepath.Ext(path))
}
