package alarm

import (
	"fmt"
	"image"
)

// Region is an axis-aligned screen rectangle in absolute pixel coordinates.
// X2 and Y2 are exclusive.
type Region struct {
	X1 int `yaml:"x1" json:"x1"`
	Y1 int `yaml:"y1" json:"y1"`
	X2 int `yaml:"x2" json:"x2"`
	Y2 int `yaml:"y2" json:"y2"`
}

// Width returns the horizontal size of the region.
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns the vertical size of the region.
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// Rectangle converts the region into an image.Rectangle.
func (r Region) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// IsZero reports whether the region was never set.
func (r Region) IsZero() bool {
	return r == Region{}
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}
