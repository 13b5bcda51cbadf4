package cooldown

import (
	"fmt"
	"time"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// State is the suppression state of one alarm class.
type State struct {
	// TriggerCount is the number of firings allowed since the last reset.
	TriggerCount int
	// CooldownUntil is the end of the active cooldown, zero when none.
	CooldownUntil time.Time
}

// InCooldown reports whether a cooldown is active at now.
func (s State) InCooldown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// Remaining returns how long the cooldown still runs at now.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.InCooldown(now) {
		return 0
	}

	return s.CooldownUntil.Sub(now)
}

// Policy tracks State for every alarm class.
// It is owned by a single run and is not safe for concurrent use.
type Policy struct {
	budget   int
	duration time.Duration
	states   map[alarm.Class]*State
}

// New creates a policy allowing budget consecutive firings before a cooldown of duration.
func New(budget int, duration time.Duration) *Policy {
	p := &Policy{
		states: make(map[alarm.Class]*State, len(alarm.Classes())),
	}

	for _, class := range alarm.Classes() {
		p.states[class] = new(State)
	}

	p.Configure(budget, duration)

	return p
}

// Configure changes the budget and the cooldown duration.
// Counters and running cooldowns are kept.
func (p *Policy) Configure(budget int, duration time.Duration) {
	p.budget = max(budget, 1)
	p.duration = max(duration, 0)
}

// Duration returns the configured cooldown duration.
func (p *Policy) Duration() time.Duration {
	return p.duration
}

func (p *Policy) state(class alarm.Class) (*State, error) {
	s, ok := p.states[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", alarm.ErrUnknownClass, class)
	}

	return s, nil
}

// Decide returns the verdict for firing class at now without changing state.
func (p *Policy) Decide(class alarm.Class, now time.Time) (alarm.Decision, error) {
	s, err := p.state(class)
	if err != nil {
		return alarm.Allow, err
	}

	if s.InCooldown(now) {
		return alarm.SuppressedCooldown, nil
	}

	if s.TriggerCount+1 > p.budget {
		return alarm.SuppressedBudget, nil
	}

	return alarm.Allow, nil
}

// Record applies decision for class at now.
func (p *Policy) Record(class alarm.Class, now time.Time, decision alarm.Decision) error {
	s, err := p.state(class)
	if err != nil {
		return err
	}

	switch decision {
	case alarm.Allow:
		s.TriggerCount++
	case alarm.SuppressedBudget:
		s.TriggerCount = 0
		s.CooldownUntil = now.Add(p.duration)
	case alarm.SuppressedCooldown:
	}

	return nil
}

// Fire decides and records a firing request for class at now.
func (p *Policy) Fire(class alarm.Class, now time.Time) (alarm.Decision, error) {
	decision, err := p.Decide(class, now)
	if err != nil {
		return decision, err
	}

	return decision, p.Record(class, now, decision)
}

// ResetBudget zeroes the trigger counter of class. An active cooldown keeps running.
func (p *Policy) ResetBudget(class alarm.Class) error {
	s, err := p.state(class)
	if err != nil {
		return err
	}

	s.TriggerCount = 0

	return nil
}

// State returns a copy of the state of class.
func (p *Policy) State(class alarm.Class) (State, error) {
	s, err := p.state(class)
	if err != nil {
		return State{}, err
	}

	return *s, nil
}
