// Package healthcheck serves the standard gRPC health service for eve-alert
// and provides a small client to query it.
//
// The overall status ("") is SERVING while the process is up. The
// "eve-alert" service is SERVING only while a detection run is active.
package healthcheck
