// Package detector runs one polling loop per alarm class.
//
// Each Poller samples its Source at a fixed interval and publishes the latest
// verdict into State, one atomic flag per class. A capture failure ends the
// poller with ErrCaptureFailed, which stops the owning run.
package detector
