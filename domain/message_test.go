package domain

import (
	"ephemeral-chat/errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageLimits_Validate(t *testing.T) {
	limits := MessageLimits{MaxSenderLength: 100, MaxTextLength: 1000}
	tests := []struct {
		name    string
		sender  string
		text    string
		wantErr bool
	}{
		{"Valid message", "alice", "hi", false},
		{"Text at the limit", "alice", strings.Repeat("a", 1000), false},
		{"Text over the limit", "alice", strings.Repeat("a", 1001), true},
		{"Sender over the limit", strings.Repeat("b", 101), "hi", true},
		{"Empty text", "alice", "", true},
		{"Empty sender", "", "hi", true},
		{"Multibyte text counted in characters", "alice", strings.Repeat("é", 1000), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			err := limits.Validate(tt.sender, tt.text)
			if tt.wantErr {
				req.ErrorIs(err, errors.ErrValidation)
			} else {
				req.NoError(err)
			}
		})
	}
}

func TestRedact_OnlyOwnerKeepsToken(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	messages := []Message{
		NewMessage("r", "alice-token", "alice", "hi", now),
		NewMessage("r", "bob-token", "bob", "hey", now),
	}

	forAlice := Redact(messages, "alice-token")
	req.Equal(Token("alice-token"), forAlice[0].AuthorToken)
	req.Empty(forAlice[1].AuthorToken)

	forStranger := Redact(messages, "")
	req.Empty(forStranger[0].AuthorToken)
	req.Empty(forStranger[1].AuthorToken)

	// The source slice is left untouched
	req.Equal(Token("bob-token"), messages[1].AuthorToken)
}

func TestRedact_EmptyHistory(t *testing.T) {
	req := require.New(t)
	redacted := Redact(nil, "t")
	req.NotNil(redacted)
	req.Empty(redacted)
}
