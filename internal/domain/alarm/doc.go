// Package alarm contains the core domain types of eve-alert.
//
// Class is the closed set of independently tracked detection categories,
// Region is a screen rectangle watched for one class, Event is the immutable
// record of a fired alarm and Decision is the outcome of the cooldown policy.
package alarm
