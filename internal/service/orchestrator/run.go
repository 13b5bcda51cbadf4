package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/domain/cooldown"
	"github.com/oshokin/eve-alert/internal/service/detector"
	"github.com/oshokin/eve-alert/internal/service/notifier"
)

// Phase is the lifecycle phase of a run.
type Phase int32

const (
	// Idle means no run was started yet.
	Idle Phase = iota
	// Running means pollers and the loop are active.
	Running
	// Stopped means the run ended, by request or on error.
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// run is the state of one detection run. Cooldowns, budgets and
// notification flags die with it; statistics do not.
type run struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	phase atomic.Int32

	detections *detector.State
	policy     *cooldown.Policy
	notifier   *notifier.Notifier

	// Owned by the loop, guarded by Orchestrator.cycleMu.
	warned   map[alarm.Class]bool
	endpoint string

	errMu sync.Mutex
	err   error

	report atomic.Pointer[CycleReport]
}

func (r *run) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *run) setPhase(p Phase) {
	r.phase.Store(int32(p))
}

func (r *run) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	r.err = err
}

func (r *run) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	return r.err
}

// publish stores report with a copy of the policy state.
// It must run under Orchestrator.cycleMu or before the run is launched.
func (r *run) publish(report *CycleReport) {
	if report == nil {
		report = &CycleReport{}
	}

	report.states = make(map[alarm.Class]cooldown.State, len(alarm.Classes()))

	for _, class := range alarm.Classes() {
		if state, err := r.policy.State(class); err == nil {
			report.states[class] = state
		}
	}

	r.report.Store(report)
}

// CycleReport is the outcome of one evaluation cycle.
type CycleReport struct {
	// At is the time the cycle started.
	At time.Time `json:"at"`
	// Decisions holds the decision of every detected class.
	Decisions map[alarm.Class]alarm.Decision `json:"decisions,omitempty"`
	// Played lists the classes whose sound was played or muted.
	Played []alarm.Class `json:"played,omitempty"`

	states map[alarm.Class]cooldown.State
}

// ClassStatus is the live state of one class.
type ClassStatus struct {
	Detected          bool      `json:"detected"`
	TriggerCount      int       `json:"trigger_count"`
	CooldownUntil     time.Time `json:"cooldown_until,omitzero"`
	CooldownRemaining string    `json:"cooldown_remaining,omitempty"`
	NotificationSent  bool      `json:"notification_sent"`
}

// Status describes the orchestrator at one point in time.
type Status struct {
	Phase     string                      `json:"phase"`
	RunID     string                      `json:"run_id,omitempty"`
	StartedAt time.Time                   `json:"started_at,omitzero"`
	Classes   map[alarm.Class]ClassStatus `json:"classes,omitempty"`
	LastCycle *CycleReport                `json:"last_cycle,omitempty"`
	LastError string                      `json:"last_error,omitempty"`
}

// Status reports the phase of the current run and the live state of every class.
func (o *Orchestrator) Status() Status {
	r := o.current.Load()
	if r == nil {
		return Status{Phase: Idle.String()}
	}

	now := o.opts.Now()
	result := Status{
		Phase:     r.Phase().String(),
		RunID:     r.id,
		StartedAt: r.startedAt,
		Classes:   make(map[alarm.Class]ClassStatus, len(alarm.Classes())),
	}

	report := r.report.Load()
	if !report.At.IsZero() {
		result.LastCycle = report
	}

	if err := r.Err(); err != nil {
		result.LastError = err.Error()
	}

	for _, class := range alarm.Classes() {
		state := report.states[class]

		item := ClassStatus{
			Detected:         r.detections.Detected(class),
			TriggerCount:     state.TriggerCount,
			CooldownUntil:    state.CooldownUntil,
			NotificationSent: r.notifier.Sent(class),
		}

		if state.InCooldown(now) {
			item.CooldownRemaining = state.Remaining(now).Round(time.Second).String()
		}

		result.Classes[class] = item
	}

	return result
}
