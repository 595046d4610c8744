// Package goSession provides session authentication with JWT access tokens,
// rotating refresh tokens bound to a single current session per user, and
// email verification delivered through a Redis job queue.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenPair, Profile, MetricsSnapshot). Flow orchestration
// and rate limiting live under internal/. Persistence is behind
// userstore.Store and email delivery behind mailqueue and mailer. The HTTP
// surface is package httpapi.
//
// # Session model
//
// Each user record holds one current session id. Login replaces it, which
// revokes every earlier refresh token. Refresh swaps it with a
// compare-and-swap, so of several concurrent refreshes presenting the same
// token exactly one succeeds. Logout clears it only while it still matches
// the presented token.
//
// # What this package must NOT do
//
//   - Send email inline. Registration only enqueues a job.
//   - Return refresh tokens anywhere the caller did not ask for them.
//   - Import any sub-package that re-imports goSession (no import cycles).
package goSession
