package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ErrNoEmail is returned when the userinfo endpoint does not disclose an
// email address for the token.
var ErrNoEmail = errors.New("userinfo response has no email")

// UserInfoFetcher resolves the email address of the account that an
// authenticated client acts for.
type UserInfoFetcher func(ctx context.Context, client *http.Client) (string, error)

// NewUserInfoFetcher returns a UserInfoFetcher backed by the OAuth2 v2
// userinfo API. Extra options such as option.WithEndpoint are applied to
// the underlying service.
func NewUserInfoFetcher(opts ...option.ClientOption) UserInfoFetcher {
	return func(ctx context.Context, client *http.Client) (string, error) {
		svc, err := oauth2api.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
		if err != nil {
			return "", fmt.Errorf("failed to create userinfo service: %w", err)
		}

		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to get user info: %w", err)
		}
		if info.Email == "" {
			return "", ErrNoEmail
		}
		return info.Email, nil
	}
}
