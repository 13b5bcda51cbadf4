// Package vision is the default detection source.
//
// Screen grabs the display through the platform screenshot tool, Crop cuts
// the watched region out of the frame and Matcher slides every template of a
// class over the region, comparing difference hashes. A region that falls
// outside of the captured frame is a capture failure.
package vision
