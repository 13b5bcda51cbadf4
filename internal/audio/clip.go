package audio

import (
	"math"
	"time"
)

// OutputChannels is the channel count of every clip sent to an Output.
const OutputChannels = 2

// Clip is decoded PCM audio with interleaved 16-bit samples.
type Clip struct {
	// Samples holds interleaved frames.
	Samples []int16
	// Channels is the number of samples per frame.
	Channels int
	// SampleRate is the number of frames per second.
	SampleRate int
}

// Frames returns the number of frames in the clip.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}

	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}

	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// ToStereo returns the clip with OutputChannels channels.
// Mono frames are duplicated; extra channels beyond the first two are dropped.
func (c Clip) ToStereo() Clip {
	if c.Channels == OutputChannels {
		return c
	}

	frames := c.Frames()
	out := make([]int16, 0, frames*OutputChannels)

	for i := range frames {
		frame := c.Samples[i*c.Channels : (i+1)*c.Channels]
		if c.Channels == 1 {
			out = append(out, frame[0], frame[0])

			continue
		}

		out = append(out, frame[0], frame[1])
	}

	return Clip{Samples: out, Channels: OutputChannels, SampleRate: c.SampleRate}
}

// Scale returns a copy of the clip with every sample multiplied by volume in [0, 1].
func (c Clip) Scale(volume float64) Clip {
	volume = math.Max(0, math.Min(1, volume))

	out := make([]int16, len(c.Samples))
	for i, sample := range c.Samples {
		out[i] = int16(float64(sample) * volume)
	}

	return Clip{Samples: out, Channels: c.Channels, SampleRate: c.SampleRate}
}
