package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/oshokin/eve-alert/internal/audio"
)

// DefaultFramesPerBuffer is the number of frames written per stream call.
const DefaultFramesPerBuffer = 1024

// Output plays clips on the default device. Clips are rendered one at a time.
type Output struct {
	framesPerBuffer int

	// mu serializes access to the device.
	mu sync.Mutex
}

// New initializes PortAudio. Close must be called to release it.
func New() (*Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	return &Output{framesPerBuffer: DefaultFramesPerBuffer}, nil
}

// Play opens a stream matching the clip layout and writes the clip to it.
// Cancelling ctx stops playback after the current buffer.
func (o *Output) Play(ctx context.Context, clip audio.Clip) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	buf := make([]int16, o.framesPerBuffer*clip.Channels)

	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), o.framesPerBuffer, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}

	defer stream.Close() //nolint:errcheck // Close after Stop reports nothing useful.

	if err = stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	defer stream.Stop() //nolint:errcheck // Best effort.

	for offset := 0; offset < len(clip.Samples); offset += len(buf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n := copy(buf, clip.Samples[offset:])
		clear(buf[n:])

		if err = stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}

	return nil
}

// Close releases PortAudio.
func (o *Output) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("terminate portaudio: %w", err)
	}

	return nil
}
