// Package httpapi exposes a goSession Engine over HTTP.
//
// Every request passes through CORS, request logging, a per-IP rate limit
// and the double-submit CSRF guard before reaching the JSON handlers under
// the configured API prefix. Responses use one envelope:
//
//	{"success": true, "message": "...", "data": {...}}
//
// Refresh tokens travel only in the HttpOnly refresh cookie.
package httpapi
