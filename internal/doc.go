// Package internal contains helpers private to goSession, mainly secure
// random identifiers and token hashing.
//
// # Sub-packages
//
//   - flows: pure-function orchestrators for login, refresh and logout
//   - rate: Redis fixed-window counters shared by every throttle
//   - config: gosessiond settings loaded with viper
//   - obs: process logger construction
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal
