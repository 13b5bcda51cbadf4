// Package portaudio renders audio clips on the default output device.
package portaudio
