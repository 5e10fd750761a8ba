// Package google holds the Google-specific pieces of the login flow: the
// OAuth client descriptor loader, the requested scopes, and the userinfo
// lookup that maps a fresh token to an email address.
package google
