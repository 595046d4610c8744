// Package flows contains pure-function orchestrators for the session
// lifecycle: login, refresh rotation and logout.
//
// Each flow function accepts a typed dependency struct and returns a result
// carrying a failure kind instead of a mapped error. The Engine turns kinds
// into sentinel errors, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate the user store, token managers, password hasher
// and login limiter. They do NOT own any of these resources; ownership stays
// with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
