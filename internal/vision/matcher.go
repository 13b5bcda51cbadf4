package vision

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/corona10/goimagehash"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// hashBits is the size of a difference hash.
const hashBits = 64

// ErrNoTemplates is returned when a class has no template images.
var ErrNoTemplates = errors.New("no templates for alarm class")

// TemplatePrefix returns the file name prefix of templates for class.
func TemplatePrefix(class alarm.Class) string {
	if class == alarm.Faction {
		return "faction_"
	}

	return "image_"
}

// Template is a marker image with its precomputed hash.
type Template struct {
	// Name is the file the template was loaded from.
	Name string
	// Size is the template size in pixels.
	Size image.Point

	hash *goimagehash.ImageHash
}

// NewTemplate hashes img.
func NewTemplate(name string, img image.Image) (Template, error) {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return Template{}, fmt.Errorf("hash template %s: %w", name, err)
	}

	return Template{Name: name, Size: img.Bounds().Size(), hash: hash}, nil
}

// Matcher compares regions against the templates of each class.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	templates map[alarm.Class][]Template
}

// NewMatcher creates a matcher from already loaded templates.
func NewMatcher(templates map[alarm.Class][]Template) *Matcher {
	m := &Matcher{templates: make(map[alarm.Class][]Template, len(templates))}
	for class, list := range templates {
		m.templates[class] = slices.Clone(list)
	}

	return m
}

// LoadTemplates reads every PNG and JPEG in dir, assigning it to a class by prefix.
func LoadTemplates(dir string) (*Matcher, error) {
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("read templates directory: %w", err)
	}

	templates := make(map[alarm.Class][]Template)

	for _, entry := range entries {
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))

		if entry.IsDir() || (ext != ".png" && ext != ".jpg" && ext != ".jpeg") {
			continue
		}

		for _, class := range alarm.Classes() {
			if !strings.HasPrefix(strings.ToLower(name), TemplatePrefix(class)) {
				continue
			}

			img, decodeErr := decodeFile(filepath.Join(dir, name))
			if decodeErr != nil {
				return nil, decodeErr
			}

			tpl, hashErr := NewTemplate(name, img)
			if hashErr != nil {
				return nil, hashErr
			}

			templates[class] = append(templates[class], tpl)
		}
	}

	return NewMatcher(templates), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}

	defer f.Close() //nolint:errcheck // Read-only file.

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", filepath.Base(path), err)
	}

	return img, nil
}

// Count returns the number of templates of class.
func (m *Matcher) Count(class alarm.Class) int {
	return len(m.templates[class])
}

// subImager is implemented by every standard image type.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Match reports whether any template of class appears in img with a similarity
// of at least threshold. It also returns the best similarity seen.
func (m *Matcher) Match(img image.Image, class alarm.Class, threshold float64) (bool, float64, error) {
	templates := m.templates[class]
	if len(templates) == 0 {
		return false, 0, fmt.Errorf("%w: %s", ErrNoTemplates, class)
	}

	sub, ok := img.(subImager)
	if !ok {
		return false, 0, fmt.Errorf("image type %T cannot be windowed", img)
	}

	bounds := img.Bounds()
	best := 0.0

	for _, tpl := range templates {
		if tpl.Size.X > bounds.Dx() || tpl.Size.Y > bounds.Dy() {
			continue
		}

		strideX := max(1, tpl.Size.X/4) //nolint:mnd // Quarter-template steps.
		strideY := max(1, tpl.Size.Y/4) //nolint:mnd // Quarter-template steps.

		for y := bounds.Min.Y; y+tpl.Size.Y <= bounds.Max.Y; y += strideY {
			for x := bounds.Min.X; x+tpl.Size.X <= bounds.Max.X; x += strideX {
				window := sub.SubImage(image.Rect(x, y, x+tpl.Size.X, y+tpl.Size.Y))

				hash, err := goimagehash.DifferenceHash(window)
				if err != nil {
					return false, best, fmt.Errorf("hash region window: %w", err)
				}

				distance, err := tpl.hash.Distance(hash)
				if err != nil {
					return false, best, fmt.Errorf("compare hashes: %w", err)
				}

				similarity := 1 - float64(distance)/hashBits
				best = max(best, similarity)

				if similarity >= threshold {
					return true, similarity, nil
				}
			}
		}
	}

	return false, best, nil
}
