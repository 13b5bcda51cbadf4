//go:build darwin

package vision

import (
	"context"
	"os/exec"
)

// captureCommand uses the native screencapture tool without the shutter sound.
func captureCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	if _, err := exec.LookPath("screencapture"); err != nil {
		return nil, ErrNoScreenshotTool
	}

	return exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-m", path), nil
}
