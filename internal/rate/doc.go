// Package rate provides Redis-backed fixed-window counters shared by every
// throttle in goSession.
//
// # Window semantics
//
// INCR with PEXPIRE on the first hit, done in one script. Callers pick a
// key prefix per concern:
//   - "rl:login:" failed logins per email
//   - "rl:resend:" verification resends per user
//   - "rl:ip:" HTTP requests per client IP
//   - "rl:mail:" email worker send budget
//
// # What this package must NOT do
//
//   - Decide policy (limits and prefixes come from callers).
//   - Be imported outside the goSession module.
package rate
