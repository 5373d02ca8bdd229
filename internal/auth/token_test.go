package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestMintVerify(t *testing.T) {
	tok, err := Mint(secret, "tablet-7", 0, time.Now())
	require.NoError(t, err)

	device, err := Verify(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "tablet-7", device)
}

func TestVerify_Rejects(t *testing.T) {
	expired, err := Mint(secret, "d", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = Verify(secret, expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	other, err := Mint([]byte("other"), "d", time.Minute, time.Now())
	require.NoError(t, err)
	_, err = Verify(secret, other)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = Verify(secret, "not.a.jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMint_EmptySecret(t *testing.T) {
	_, err := Mint(nil, "d", 0, time.Now())
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer  abc ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer   ", "", true},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnauthorized, "header %q", tt.header)
			continue
		}
		require.NoError(t, err, "header %q", tt.header)
		assert.Equal(t, tt.want, got)
	}
}
