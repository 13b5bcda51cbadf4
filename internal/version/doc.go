// Package version exposes build metadata injected through ldflags:
// Version, Commit and BuildTime. Short and Full render it for the CLI,
// UserAgent for outgoing notifications and the HTTP status endpoint.
package version
