package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/gatorerr"
)

func TestMintValidateRoundTrip(t *testing.T) {
	secret := []byte("top-secret-value")
	scope := Scope{TaskID: "task-123", Attempt: 2}

	tok, err := Mint(secret, scope)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "gator_at_task-123_2_"))

	got, err := Validate(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, scope, got)
}

func TestValidateRejectsSingleByteFlip(t *testing.T) {
	secret := []byte("top-secret-value")
	tok, err := Mint(secret, Scope{TaskID: "task-123", Attempt: 0})
	require.NoError(t, err)

	flipped := []byte(tok)
	flipped[len(flipped)-1]++
	_, err = Validate(secret, string(flipped))
	assert.ErrorIs(t, err, gatorerr.ErrHmacMismatch)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tok, err := Mint([]byte("secret-a"), Scope{TaskID: "t1", Attempt: 1})
	require.NoError(t, err)

	_, err = Validate([]byte("secret-b"), tok)
	assert.ErrorIs(t, err, gatorerr.ErrHmacMismatch)
}

func TestValidateRejectsMalformedTokens(t *testing.T) {
	secret := []byte("s")
	cases := []string{
		"",
		"not-a-token",
		"gator_at_task-1_abc_deadbeef",
		"gator_at__1_deadbeef",
		"wrong_prefix_task-1_1_deadbeef",
	}
	for _, c := range cases {
		_, err := Validate(secret, c)
		assert.Error(t, err, "expected error for %q", c)
	}
}

func TestMintRequiresSecretAndTaskID(t *testing.T) {
	_, err := Mint(nil, Scope{TaskID: "t1"})
	assert.ErrorIs(t, err, gatorerr.ErrMissingSecret)

	_, err = Mint([]byte("s"), Scope{TaskID: ""})
	assert.ErrorIs(t, err, gatorerr.ErrInvalidTaskID)
}
