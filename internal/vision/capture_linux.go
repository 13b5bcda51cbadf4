//go:build linux

package vision

import (
	"context"
	"os/exec"
)

// captureCommand prefers scrot and falls back to gnome-screenshot.
func captureCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	if _, err := exec.LookPath("scrot"); err == nil {
		return exec.CommandContext(ctx, "scrot", "--overwrite", "--silent", path), nil
	}

	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		return exec.CommandContext(ctx, "gnome-screenshot", "-f", path), nil
	}

	return nil, ErrNoScreenshotTool
}
