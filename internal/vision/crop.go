package vision

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// ErrRegionOutOfBounds is returned when a region is not fully inside the frame.
var ErrRegionOutOfBounds = errors.New("region is outside of the captured screen")

// Crop copies region out of frame into a new image anchored at the origin.
func Crop(frame image.Image, region alarm.Region) (*image.RGBA, error) {
	rect := region.Rectangle()
	if rect.Empty() || !rect.In(frame.Bounds()) {
		return nil, fmt.Errorf("%w: region %s, screen %s", ErrRegionOutOfBounds, region, frame.Bounds())
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, frame, rect, draw.Src, nil)

	return dst, nil
}
