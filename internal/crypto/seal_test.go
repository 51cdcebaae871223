package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundtrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	s, err := NewSealer(salt)
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(""),
		[]byte("hello"),
		make([]byte, 4096),
	}
	for _, plaintext := range cases {
		ct, err := s.Seal(plaintext)
		require.NoError(t, err)
		pt, err := s.Open(ct)
		require.NoError(t, err)
		require.Equal(t, plaintext, pt)
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	s, err := NewSealer(salt)
	require.NoError(t, err)

	plaintext := []byte("same plaintext every time")
	a, err := s.Seal(plaintext)
	require.NoError(t, err)
	b, err := s.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "seal must use a fresh nonce per call")
}

func TestOpenRejectsCorruption(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	s, err := NewSealer(salt)
	require.NoError(t, err)

	ct, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = s.Open(ct)
	require.Error(t, err)
}

func TestDifferentSaltsYieldDifferentKeys(t *testing.T) {
	salt1, err := NewSalt()
	require.NoError(t, err)
	salt2, err := NewSalt()
	require.NoError(t, err)

	s1, err := NewSealer(salt1)
	require.NoError(t, err)
	s2, err := NewSealer(salt2)
	require.NoError(t, err)

	ct, err := s1.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = s2.Open(ct)
	require.Error(t, err, "a ciphertext sealed under one salt must not open under another")
}
