package alarm

import (
	"errors"
	"fmt"
	"strings"
)

// Class identifies an alarm category.
type Class string

const (
	// Enemy is raised when a hostile marker appears in the local list.
	Enemy Class = "Enemy"
	// Faction is raised when a faction spawn marker appears.
	Faction Class = "Faction"
)

// ErrUnknownClass is returned for a class outside of Classes.
var ErrUnknownClass = errors.New("unknown alarm class")

// Classes returns every alarm class in evaluation order.
func Classes() []Class {
	return []Class{Enemy, Faction}
}

// ParseClass converts a case-insensitive name into a Class.
func ParseClass(s string) (Class, error) {
	for _, c := range Classes() {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

// Valid reports whether c belongs to Classes.
func (c Class) Valid() bool {
	return c == Enemy || c == Faction
}

// String implements fmt.Stringer.
func (c Class) String() string {
	return string(c)
}

// Headline is the user-facing line announcing a detection of this class.
func (c Class) Headline() string {
	switch c {
	case Enemy:
		return "Enemy Appears!"
	case Faction:
		return "Faction Spawn!"
	default:
		return string(c) + " Appears!"
	}
}
