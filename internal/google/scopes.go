package google

import (
	gmail "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// DefaultOAuthScopes are requested on every login. The email scope is needed
// to resolve the signed-in account on callback.
var DefaultOAuthScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailModifyScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.OpenIDScope,
}
