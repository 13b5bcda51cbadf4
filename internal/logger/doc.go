// Package logger wraps zap for eve-alert:
//   - a global sugared logger with a console encoder on stdout,
//   - an optional JSON log file teed next to the console output,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and the KV-style convenience functions.
//
// Every service takes a context and pulls its logger out of it, so loops,
// runs and classes carry their own scoped fields.
package logger
