package auth

import (
	"ephemeral-chat/domain"
	"ephemeral-chat/errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "ephemeral-chat"

// RoomClaims binds a token to the room it was minted for.
// The token carries no expiry: it dies with the room membership it is
// stored in.
type RoomClaims struct {
	RoomID string `json:"rid"`
	jwt.RegisteredClaims
}

// TokenCodec signs and parses participant tokens with HMAC-SHA256.
type TokenCodec struct {
	secret []byte
}

func NewTokenCodec(secret []byte) TokenCodec {
	return TokenCodec{secret: secret}
}

// Mint creates a fresh token for roomID. Every call yields a unique token
// thanks to a random jti.
func (c TokenCodec) Mint(roomID domain.RoomID) (domain.Token, error) {
	claims := &RoomClaims{
		RoomID: string(roomID),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:     uuid.NewString(),
			Issuer: issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return domain.Token(signed), nil
}

// Parse checks the signature and returns the room the token was minted for.
func (c TokenCodec) Parse(token domain.Token) (domain.RoomID, error) {
	if token == "" {
		return "", errors.ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(string(token), &RoomClaims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*RoomClaims)
	if !ok || !parsed.Valid || claims.RoomID == "" {
		return "", errors.ErrUnauthorized
	}
	return domain.RoomID(claims.RoomID), nil
}
