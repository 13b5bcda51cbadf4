package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Output renders a clip and blocks until it finished or ctx is done.
type Output interface {
	Play(ctx context.Context, clip Clip) error
}

// ErrOutputUnavailable is returned by an Unavailable output.
var ErrOutputUnavailable = errors.New("audio output is unavailable")

// Unavailable is the Output used when no audio device could be opened.
type Unavailable struct {
	// Cause is the error that prevented opening the device.
	Cause error
}

// Play always fails.
func (u Unavailable) Play(context.Context, Clip) error {
	if u.Cause == nil {
		return ErrOutputUnavailable
	}

	return fmt.Errorf("%w: %w", ErrOutputUnavailable, u.Cause)
}

// Result describes what Play did.
type Result int

const (
	// Played means the clip was rendered to the end.
	Played Result = iota
	// Skipped means the same sound was already playing.
	Skipped
	// Muted means nothing was rendered because the mute flag was set.
	Muted
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Played:
		return "played"
	case Skipped:
		return "skipped"
	case Muted:
		return "muted"
	default:
		return "unknown"
	}
}

// Request is one playback request.
type Request struct {
	// Sound is the path of the sound file.
	Sound string
	// Volume scales samples, [0, 1].
	Volume float64
	// Mute turns the request into a no-op.
	Mute bool
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithDecoder replaces Decode, mostly for tests.
func WithDecoder(decode func(path string) (Clip, error)) PlayerOption {
	return func(p *Player) {
		p.decode = decode
	}
}

// Player plays alarm sounds through an Output.
// It is safe for concurrent use.
type Player struct {
	output Output
	decode func(path string) (Clip, error)

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPlayer creates a player rendering to output.
func NewPlayer(output Output, opts ...PlayerOption) *Player {
	p := &Player{
		output:   output,
		decode:   Decode,
		inFlight: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Play renders req.Sound and blocks until playback completes.
// A request for a sound that is already playing returns Skipped immediately.
func (p *Player) Play(ctx context.Context, req Request) (Result, error) {
	if req.Mute {
		return Muted, nil
	}

	if !p.acquire(req.Sound) {
		return Skipped, nil
	}
	defer p.release(req.Sound)

	clip, err := p.decode(req.Sound)
	if err != nil {
		return Played, fmt.Errorf("decode %q: %w", req.Sound, err)
	}

	if err = p.output.Play(ctx, clip.ToStereo().Scale(req.Volume)); err != nil {
		return Played, fmt.Errorf("play %q: %w", req.Sound, err)
	}

	return Played, nil
}

// Playing reports whether sound is currently being rendered.
func (p *Player) Playing(sound string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.inFlight[sound]

	return ok
}

func (p *Player) acquire(sound string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inFlight[sound]; ok {
		return false
	}

	p.inFlight[sound] = struct{}{}

	return true
}

func (p *Player) release(sound string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inFlight, sound)
}
