// Package middleware adapts goSession access-token validation to net/http.
//
// [Guard] reads the Authorization bearer token, calls ValidateAccess and
// stores the resulting claims in the request context, where handlers read
// them with [ClaimsFromContext]. Every rejection is a bare 401; the reason
// is never disclosed.
package middleware
