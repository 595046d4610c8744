// Package userstore persists user accounts and the single current session
// id that anchors refresh-token rotation.
//
// # Backends
//
//   - [Memory]: mutex-guarded maps, for tests and single-process demos
//   - [Redis]: one hash per user plus an email index, updated by Lua scripts
//   - [Postgres]: pgx pool, schema managed by the embedded goose migrations
//
// # Session compare-and-swap
//
// [Store.CompareAndSwapSessionID] is the only write that refresh and logout
// use. It replaces the stored session id only when it still equals the
// expected value, so of N concurrent rotations from the same id exactly one
// observes true.
//
// # What this package must NOT do
//
//   - Hash passwords or mint tokens.
//   - Import the root goSession package.
package userstore
