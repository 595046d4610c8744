// Package jwt issues and verifies the compact session tokens used by goSession.
//
// Two managers are built per engine, one for access tokens and one for refresh
// tokens, each with its own key. Every token carries a "use" claim so a token
// minted for one purpose is rejected by the other manager.
package jwt
