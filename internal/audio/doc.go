// Package audio decodes alarm sounds and plays them through an Output.
//
// Player de-duplicates concurrent plays of the same sound, honours the mute
// flag, converts mono clips to the stereo output layout, scales samples by
// volume and blocks until the output finishes the clip.
package audio
