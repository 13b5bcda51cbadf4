package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"
)

var (
	// ErrUnsupportedFormat is returned for sound files other than WAV and FLAC.
	ErrUnsupportedFormat = errors.New("unsupported sound format")
	// ErrInvalidSound is returned for files that cannot be decoded.
	ErrInvalidSound = errors.New("invalid sound file")
)

// SupportedExtensions lists the sound file extensions Decode understands.
func SupportedExtensions() []string {
	return []string{".wav", ".flac"}
}

// ValidateFile checks that path names a readable regular file with a supported extension.
func ValidateFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions(), ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("stat sound file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidSound, path)
	}

	return nil
}

// Decode reads the sound file at path into a Clip.
func Decode(path string) (Clip, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions(), ext) {
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Clip{}, fmt.Errorf("open sound file: %w", err)
	}

	defer file.Close() //nolint:errcheck // Read-only file.

	if ext == ".flac" {
		return DecodeFLAC(file)
	}

	return DecodeWAV(file)
}

// DecodeWAV decodes a PCM WAV stream with 8, 16, 24 or 32-bit samples.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a valid WAV stream", ErrInvalidSound)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrInvalidSound, err)
	}

	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return Clip{}, fmt.Errorf("%w: missing channel layout", ErrInvalidSound)
	}

	bitDepth := int(decoder.BitDepth)

	samples := make([]int16, len(buf.Data))
	for i, sample := range buf.Data {
		samples[i] = toInt16(sample, bitDepth)
	}

	return Clip{
		Samples:    samples,
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// DecodeFLAC decodes a FLAC stream with 16, 24 or 32-bit samples.
func DecodeFLAC(r io.Reader) (Clip, error) {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrInvalidSound, err)
	}

	bytesPerSample := decoder.BitsPerSample / 8 //nolint:mnd // Bits to bytes.
	if bytesPerSample < 2 || bytesPerSample > 4 || decoder.NChannels <= 0 {
		return Clip{}, fmt.Errorf("%w: %d-bit FLAC is not supported", ErrInvalidSound, decoder.BitsPerSample)
	}

	var samples []int16

	for {
		frame, nextErr := decoder.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			return Clip{}, fmt.Errorf("%w: %w", ErrInvalidSound, nextErr)
		}

		for i := 0; i+bytesPerSample <= len(frame); i += bytesPerSample {
			var sample int

			switch bytesPerSample {
			case 2:
				sample = int(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 3:
				sample = int(int32(uint32(frame[i])|uint32(frame[i+1])<<8|uint32(frame[i+2])<<16) << 8 >> 8)
			default:
				sample = int(int32(binary.LittleEndian.Uint32(frame[i:])))
			}

			samples = append(samples, toInt16(sample, decoder.BitsPerSample))
		}
	}

	return Clip{
		Samples:    samples,
		Channels:   decoder.NChannels,
		SampleRate: decoder.SampleRate,
	}, nil
}

// toInt16 rescales a signed sample of the given bit depth to 16 bits.
func toInt16(sample, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit PCM is unsigned.
		return int16((sample - 128) << 8) //nolint:mnd // Unsigned 8-bit midpoint.
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16)) //nolint:gosec,mnd // Shifted into range.
	default:
		return int16(sample) //nolint:gosec // Already 16-bit.
	}
}
