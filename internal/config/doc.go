// Package config defines the eve-alert settings file and the helpers around it:
// Load, Save and Validate in YAML, field validators that enumerate every
// problem at once, a Holder that swaps immutable snapshots atomically and a
// Watch helper that reports writes to the settings file.
package config
