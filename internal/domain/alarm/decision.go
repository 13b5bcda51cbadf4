package alarm

// Decision is the verdict of the cooldown policy for one firing request.
type Decision int

const (
	// Allow means the alarm fires.
	Allow Decision = iota
	// SuppressedCooldown means the class is inside an active cooldown window.
	SuppressedCooldown
	// SuppressedBudget means the trigger budget is exhausted and a cooldown has just started.
	SuppressedBudget
)

// Allowed reports whether d lets the alarm fire.
func (d Decision) Allowed() bool {
	return d == Allow
}

// String implements fmt.Stringer. The value is also used as a metrics label.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case SuppressedCooldown:
		return "cooldown"
	case SuppressedBudget:
		return "budget"
	default:
		return "unknown"
	}
}
