// Package agent runs the eve-alert process: it loads settings, builds the
// screen sources, the audio output and the notifier transport, starts the
// orchestrator and serves the HTTP API and the gRPC health service until
// the context is cancelled.
package agent
