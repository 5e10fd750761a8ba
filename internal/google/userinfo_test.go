package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestUserInfoFetcher(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantEmail string
		wantErr   bool
	}{
		{"email present", http.StatusOK, `{"id":"1","email":"jane@example.com","verified_email":true}`, "jane@example.com", false},
		{"email missing", http.StatusOK, `{"id":"1"}`, "", true},
		{"upstream rejects token", http.StatusUnauthorized, `{"error":{"code":401,"message":"invalid"}}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/oauth2/v2/userinfo", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			fetch := NewUserInfoFetcher(option.WithEndpoint(srv.URL + "/"))
			email, err := fetch(context.Background(), srv.Client())

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}
