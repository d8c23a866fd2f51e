//go:build !windows

package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func checkExecutable(path string, info os.FileInfo) error {
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("no execute permission bits set (mode %s)", info.Mode())
	}
	// Mode bits alone ignore ownership; ask the kernel with our real ids.
	if err := unix.Access(path, unix.X_OK); err != nil {
		return err
	}
	return nil
}
