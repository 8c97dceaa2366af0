package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New("test-master-secret", "test-salt")
	require.NoError(t, err)
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"hunter2", "", "p@ss with spaces and ünicode"} {
		enc, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		dec, err := v.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := v.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	decA, err := v.Decrypt(a)
	require.NoError(t, err)
	decB, err := v.Decrypt(b)
	require.NoError(t, err)
	assert.Equal(t, decA, decB)
}

func TestDecryptFailsClosed(t *testing.T) {
	v := newTestVault(t)

	enc, err := v.Encrypt("secret")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing fields", "deadbeef"},
		{"two fields", "deadbeef:deadbeef"},
		{"not hex", "zz:zz:zz"},
		{"wrong nonce size", "dead:" + strings.SplitN(enc, ":", 3)[1] + ":" + strings.SplitN(enc, ":", 3)[2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v := newTestVault(t)

	enc, err := v.Encrypt("secret payload")
	require.NoError(t, err)

	// Flip one hex digit of the ciphertext body.
	parts := strings.SplitN(enc, ":", 3)
	body := []byte(parts[2])
	if body[0] == 'a' {
		body[0] = 'b'
	} else {
		body[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(body)

	_, err = v.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWithWrongKey(t *testing.T) {
	v := newTestVault(t)
	other, err := New("another-master-secret", "test-salt")
	require.NoError(t, err)

	enc, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
