package auth

import (
	"ephemeral-chat/domain"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   domain.Token
	}{
		{"no credentials", "", "", ""},
		{"bearer header", "Bearer abc", "", "abc"},
		{"cookie", "", "from-cookie", "from-cookie"},
		{"header wins over cookie", "Bearer abc", "from-cookie", "abc"},
		{"other scheme ignored", "Basic abc", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			var got domain.Token
			handler := TokenMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = TokenFromContext(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/api/rooms/1", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			handler.ServeHTTP(httptest.NewRecorder(), r)

			req.Equal(tt.want, got)
		})
	}
}

func TestTokenCookie(t *testing.T) {
	req := require.New(t)
	cookie := TokenCookie("room-1", "abc", 600)
	req.Equal(CookieName, cookie.Name)
	req.Equal("/api/rooms/room-1", cookie.Path)
	req.Equal(600, cookie.MaxAge)
	req.True(cookie.HttpOnly)
}
