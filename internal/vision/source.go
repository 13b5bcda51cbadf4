package vision

import (
	"context"
	"fmt"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// ClassSource samples regions for one alarm class.
type ClassSource struct {
	capturer Capturer
	matcher  *Matcher
	class    alarm.Class
}

// NewClassSource combines a capturer and a matcher for class.
func NewClassSource(capturer Capturer, matcher *Matcher, class alarm.Class) *ClassSource {
	return &ClassSource{capturer: capturer, matcher: matcher, class: class}
}

// Sample captures the screen, crops region and matches it against the templates.
func (s *ClassSource) Sample(ctx context.Context, region alarm.Region, threshold float64) (bool, error) {
	frame, err := s.capturer.Capture(ctx)
	if err != nil {
		return false, fmt.Errorf("capture screen: %w", err)
	}

	cropped, err := Crop(frame, region)
	if err != nil {
		return false, err
	}

	matched, _, err := s.matcher.Match(cropped, s.class, threshold)
	if err != nil {
		return false, err
	}

	return matched, nil
}
