// Package rest exposes the control and status HTTP API of eve-alert:
// run control, statistics, settings reload, Prometheus metrics and a
// websocket stream of status lines.
package rest
