// Package status carries user-visible status lines.
//
// Components write through the Sink interface. LogSink forwards lines to the
// application logger; Hub keeps a short backlog and fans lines out to live
// subscribers such as the websocket stream.
package status
