// Package statistics records fired alarms for the lifetime of the process.
//
// Recorder keeps total and session counters per class plus a bounded history
// of the most recent events. Snapshots can be exported to CSV or JSON files
// and read back.
package statistics
