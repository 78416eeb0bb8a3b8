package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("install-secret")
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		plain := rapid.String().Draw(t, "plain")
		enc, err := c.Encrypt(plain)
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Decrypt(enc)
		if err != nil {
			t.Fatal(err)
		}
		if got != plain {
			t.Fatalf("got %q want %q", got, plain)
		}
	})
}

func TestCiphertextFormat(t *testing.T) {
	c, err := New("install-secret")
	require.NoError(t, err)

	enc, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	ivHex, dataHex, ok := strings.Cut(enc, ":")
	require.True(t, ok)
	assert.Len(t, ivHex, 32)
	assert.Len(t, dataHex, 32)
	assert.NotContains(t, enc, "hunter2")
	assert.NotContains(t, enc, "install-secret")

	again, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "fresh iv per call")
}

func TestDecryptWithOtherKeyFails(t *testing.T) {
	a, err := New("key-a")
	require.NoError(t, err)
	b, err := New("key-b")
	require.NoError(t, err)

	enc, err := a.Encrypt("some longer secret value that spans blocks")
	require.NoError(t, err)

	got, err := b.Decrypt(enc)
	if err == nil {
		assert.NotEqual(t, "some longer secret value that spans blocks", got)
	}
}

func TestDecryptMalformed(t *testing.T) {
	c, err := New(DefaultKey)
	require.NoError(t, err)

	for _, in := range []string{"", "nocolon", "zz:00", "00:zz", "0011:00112233445566778899aabbccddeeff"} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
