package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Screenshot tools may produce JPEG.
	_ "image/png"  // Default screenshot format.
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFrameMaxAge is how long a captured frame is reused by concurrent pollers.
const DefaultFrameMaxAge = 80 * time.Millisecond

var (
	// ErrNoScreenshotTool is returned when no supported screenshot tool is installed.
	ErrNoScreenshotTool = errors.New("no screenshot tool found")
	// ErrUnsupportedPlatform is returned on platforms without a capture backend.
	ErrUnsupportedPlatform = errors.New("screen capture is not supported on this platform")
)

// Capturer returns the current screen contents.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Screen captures the primary display with an external tool.
// Frames are cached for maxAge so both pollers share one screenshot.
type Screen struct {
	tempDir string
	maxAge  time.Duration
	now     func() time.Time
	command func(ctx context.Context, path string) (*exec.Cmd, error)

	mu         sync.Mutex
	frame      image.Image
	capturedAt time.Time
}

// NewScreen prepares a capturer writing screenshots to a private temporary directory.
func NewScreen() (*Screen, error) {
	tempDir, err := os.MkdirTemp("", "eve-alert-screen-*")
	if err != nil {
		return nil, fmt.Errorf("create screenshot directory: %w", err)
	}

	return &Screen{
		tempDir: tempDir,
		maxAge:  DefaultFrameMaxAge,
		now:     time.Now,
		command: captureCommand,
	}, nil
}

// Capture returns a fresh or recently cached frame.
func (s *Screen) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame != nil && s.now().Sub(s.capturedAt) < s.maxAge {
		return s.frame, nil
	}

	path := filepath.Join(s.tempDir, "screen.png")

	cmd, err := s.command(ctx, path)
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err = cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", filepath.Base(cmd.Path), err, bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}

	_ = os.Remove(path)

	frame, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	s.frame = frame
	s.capturedAt = s.now()

	return frame, nil
}

// Close removes the temporary directory.
func (s *Screen) Close() error {
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("remove screenshot directory: %w", err)
	}

	return nil
}
