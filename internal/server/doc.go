// Package server is the HTTP boundary of the chat backend.
//
// # Routes
//
//   - GET  /auth/login: start the Google OAuth flow, returns {auth_url, state}
//   - GET  /auth/callback: finish the flow, set the session cookie, redirect
//   - GET  /auth/user: report whether the caller is signed in
//   - POST /auth/logout: drop the session and clear the cookie
//   - POST /api/chat: run one chat turn against the caller's mailbox
//   - POST /api/download-attachment: stream one attachment
//   - GET  /api/health, /healthz, /readyz: health probes
//
// Handlers receive their dependencies through Server: the credential store,
// the chat agent and a factory for per-request mailbox clients. No handler
// touches an OAuth token directly; the store hands out authenticated HTTP
// clients instead.
//
// Metrics are served separately by MetricsServer on a dedicated port.
package server
