package alarm

import "time"

// TimeLayout is the layout used for event timestamps in exports and status lines.
const TimeLayout = time.DateTime

// Event is the immutable record of one fired alarm.
type Event struct {
	// Class is the alarm category that fired.
	Class Class
	// Timestamp is when the alarm fired.
	Timestamp time.Time
}

// NewEvent creates an event for class at ts.
func NewEvent(class Class, ts time.Time) Event {
	return Event{Class: class, Timestamp: ts}
}

// FormattedTime renders Timestamp in local time using TimeLayout.
func (e Event) FormattedTime() string {
	return e.Timestamp.Local().Format(TimeLayout)
}
