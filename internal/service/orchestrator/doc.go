// Package orchestrator turns detection verdicts into alarms.
//
// A run owns two detector pollers and one evaluation loop, all in one errgroup.
// Every cycle of the loop holds a single mutex while it reloads pending
// settings and evaluates each class: a detection goes through the cooldown
// policy and, when allowed, plays the sound, records statistics and notifies,
// in that order. A cleared detection refills the trigger budget and ends the
// notification episode. Between cycles the loop sleeps a random 2-3 seconds.
//
// Capture failures and internal errors, including panics, stop the run and
// are reported to the status sink. A stopped run is never restarted
// automatically; Start builds a fresh run while statistics carry over.
package orchestrator
