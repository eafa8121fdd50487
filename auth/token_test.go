package auth

import (
	"ephemeral-chat/errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenCodec_MintAndParse(t *testing.T) {
	req := require.New(t)
	codec := NewTokenCodec([]byte("test-secret"))

	t1, err := codec.Mint("room-1")
	req.NoError(err)
	t2, err := codec.Mint("room-1")
	req.NoError(err)
	req.NotEqual(t1, t2)

	roomID, err := codec.Parse(t1)
	req.NoError(err)
	req.EqualValues("room-1", roomID)
}

func TestTokenCodec_RejectsForeignTokens(t *testing.T) {
	codec := NewTokenCodec([]byte("test-secret"))
	other := NewTokenCodec([]byte("other-secret"))
	forged, err := other.Mint("room-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &RoomClaims{RoomID: "room-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", string(forged)},
		{"unsigned", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := codec.Parse(domainToken(tt.token))
			req.ErrorIs(err, errors.ErrUnauthorized)
		})
	}
}
