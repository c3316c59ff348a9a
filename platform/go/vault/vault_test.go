package vault

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New("test-secret-for-vault")
	require.NoError(t, err)
	return v
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("  ")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{
		"",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.service-role",
		"pässwörd with ünïcode ✓",
		strings.Repeat("x", 4096),
	} {
		token, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		require.Len(t, strings.Split(token, ":"), 3)

		got, err := v.Decrypt(token)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestKeyDerivationIsDeterministic(t *testing.T) {
	first := newTestVault(t)
	second := newTestVault(t)

	token, err := first.Encrypt("shared")
	require.NoError(t, err)

	got, err := second.Decrypt(token)
	require.NoError(t, err)
	require.Equal(t, "shared", got)

	other, err := New("another-secret")
	require.NoError(t, err)
	_, err = other.Decrypt(token)
	var decErr *DecryptionError
	require.True(t, errors.As(err, &decErr))
}

func TestDecryptRejectsTamperedBytes(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("service-role-key-value")
	require.NoError(t, err)

	raw := []byte(token)
	for i := range raw {
		if raw[i] == ':' {
			continue
		}
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] = flipHex(tampered[i])

		got, err := v.Decrypt(string(tampered))
		require.Error(t, err, "byte %d", i)
		require.Empty(t, got)

		var decErr *DecryptionError
		require.True(t, errors.As(err, &decErr))
	}
}

func TestDecryptRejectsUppercasedHex(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("service-role-key-value")
	require.NoError(t, err)

	raw := []byte(token)
	changed := 0
	for i, c := range raw {
		if c < 'a' || c > 'f' {
			continue
		}
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] = c - 'a' + 'A'
		changed++

		got, err := v.Decrypt(string(tampered))
		require.Error(t, err, "byte %d", i)
		require.Empty(t, got)

		var decErr *DecryptionError
		require.ErrorAs(t, err, &decErr)
	}
	require.Positive(t, changed)

	got, err := v.Decrypt(strings.ToUpper(token))
	require.Error(t, err)
	require.Empty(t, got)
}

func TestDecryptRejectsMalformedTokens(t *testing.T) {
	v := newTestVault(t)

	for _, token := range []string{
		"",
		"abc",
		"00:11",
		"zz:00:00",
		"000000000000000000000000:zz:00",
		"0000:00000000000000000000000000000000:00",
	} {
		_, err := v.Decrypt(token)
		var decErr *DecryptionError
		require.True(t, errors.As(err, &decErr), "token %q", token)
	}
}

func flipHex(c byte) byte {
	if c == '0' {
		return '1'
	}
	return '0'
}
