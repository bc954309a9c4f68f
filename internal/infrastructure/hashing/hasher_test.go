package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsPrefixedAndDeterministic(t *testing.T) {
	for _, alg := range []string{SHA256, SHA3_256, BLAKE2b256} {
		t.Run(alg, func(t *testing.T) {
			h, err := New(alg)
			require.NoError(t, err)

			a := h.Sum([]byte("document bytes"))
			b := h.Sum([]byte("document bytes"))
			assert.Equal(t, a, b)
			assert.True(t, strings.HasPrefix(a, alg+":"))
			assert.Len(t, a, len(alg)+1+64)
			assert.NotEqual(t, a, h.Sum([]byte("document bytes.")))
		})
	}
}

func TestKnownSHA256Vector(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", h.Sum(nil))
}

func TestNormalize(t *testing.T) {
	h, err := New(SHA256)
	require.NoError(t, err)
	digest := strings.TrimPrefix(h.Sum([]byte("x")), "sha256:")

	got, err := h.Normalize(strings.ToUpper(digest))
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+digest, got)

	got, err = h.Normalize("  SHA256:" + digest + " ")
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+digest, got)

	for _, bad := range []string{"", "sha256:abc", "sha3-256:" + digest, strings.Repeat("z", 64)} {
		_, err := h.Normalize(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := New("md5")
	require.Error(t, err)
}
