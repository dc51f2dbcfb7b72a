// Package auth verifies bearer tokens for the daxiqd HTTP API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). Every endpoint except /api/v1/health requires a token; individual
// endpoints additionally require one of the scopes below:
//
//   - read: session status, statistics and panadapters
//   - telemetry: the server-sent event stream
//   - stream: the binary IQ websocket feed
//   - control: starting and stopping the session
package auth
