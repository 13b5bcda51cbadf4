//go:build !linux && !darwin

package vision

import (
	"context"
	"os/exec"
)

func captureCommand(context.Context, string) (*exec.Cmd, error) {
	return nil, ErrUnsupportedPlatform
}
