// Package cooldown implements the per-class trigger budget and cooldown policy.
//
// Decide is pure; Record applies a decision; Fire does both. A class that
// exhausts its budget enters a cooldown that only the wall clock ends:
// ResetBudget, called when detection clears, zeroes the counter but leaves an
// active cooldown running.
package cooldown
