//go:build !linux

package process

import (
	"runtime"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
)

func EnableSubreaper() error {
	return errors.NewInternalError("child subreaper is not supported on "+runtime.GOOS, nil)
}
