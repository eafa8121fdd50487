package auth

import (
	"context"
	"ephemeral-chat/domain"
	"net/http"
	"strings"
)

// CookieName is the cookie carrying the participant token between requests.
const CookieName = "x-auth-token"

type contextKey string

const tokenKey contextKey = "token"

// TokenMiddleware lifts the caller's token, if any, into the request context.
// The Authorization header wins over the cookie. Nothing is validated here:
// membership depends on the room, which only the handlers know.
func TokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFromRequest(r); token != "" {
			r = r.WithContext(WithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func WithToken(ctx context.Context, token domain.Token) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the token found by TokenMiddleware, or "".
func TokenFromContext(ctx context.Context) domain.Token {
	token, _ := ctx.Value(tokenKey).(domain.Token)
	return token
}

func tokenFromRequest(r *http.Request) domain.Token {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return domain.Token(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return domain.Token(cookie.Value)
	}
	return ""
}

// TokenCookie scopes the token cookie to one room and keeps it away from scripts.
func TokenCookie(roomID domain.RoomID, token domain.Token, maxAgeSeconds int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    string(token),
		Path:     "/api/rooms/" + string(roomID),
		MaxAge:   maxAgeSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
