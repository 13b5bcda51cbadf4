package detector

import (
	"sync/atomic"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// State holds the latest detection verdict of every class.
// Each flag has a single writer (its poller); the latest value wins.
type State struct {
	flags map[alarm.Class]*atomic.Bool
}

// NewState creates a state with every class undetected.
func NewState() *State {
	s := &State{
		flags: make(map[alarm.Class]*atomic.Bool, len(alarm.Classes())),
	}

	for _, class := range alarm.Classes() {
		s.flags[class] = new(atomic.Bool)
	}

	return s
}

// Set stores the verdict for class. Unknown classes are ignored.
func (s *State) Set(class alarm.Class, detected bool) {
	if flag, ok := s.flags[class]; ok {
		flag.Store(detected)
	}
}

// Detected returns the latest verdict for class.
func (s *State) Detected(class alarm.Class) bool {
	flag, ok := s.flags[class]

	return ok && flag.Load()
}

// Snapshot returns every verdict.
func (s *State) Snapshot() map[alarm.Class]bool {
	result := make(map[alarm.Class]bool, len(s.flags))
	for class, flag := range s.flags {
		result[class] = flag.Load()
	}

	return result
}
