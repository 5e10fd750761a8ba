// Package auth is the credential store behind the chat endpoints.
//
// A Store owns everything credential-related: pending login states,
// signed-in sessions, and the OAuth tokens bound to them. Callers only ever
// see a session ID and the account email. Requests that need Gmail access
// get an *http.Client from Store.HTTPClient whose token source refreshes
// through the store, so concurrent requests for one session never race on
// the refresh.
//
// Pending states live in a StateStore. MemoryStateStore keeps them in
// process with a TTL and an entry cap; RedisStateStore lets several
// replicas share them.
package auth
