package hashutil_test

import (
	"encoding/hex"
	"testing"

	"github.com/rohmanhakim/gravity-worker/pkg/hashutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

func TestHashBytes_SHA256(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "simple string",
			data:     []byte("hello world"),
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := hashutil.HashBytes(tt.data, hashutil.HashAlgoSHA256)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestHashBytes_BLAKE3(t *testing.T) {
	data := []byte("body { margin: 0 }")
	sum := blake3.Sum256(data)

	result, err := hashutil.HashBytes(data, hashutil.HashAlgoBLAKE3)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), result)
}

func TestHashBytes_UnsupportedAlgo(t *testing.T) {
	_, err := hashutil.HashBytes([]byte("x"), hashutil.HashAlgo("md5"))
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	data := []byte("<html></html>")
	sum := blake3.Sum256(data)

	digest := hashutil.Digest(data)
	assert.Equal(t, "blake3:"+hex.EncodeToString(sum[:]), digest)
	assert.True(t, hashutil.VerifyDigest(data, digest))
	assert.False(t, hashutil.VerifyDigest([]byte("<html>changed</html>"), digest))
}

func TestVerifyDigest_Malformed(t *testing.T) {
	assert.False(t, hashutil.VerifyDigest([]byte("x"), "no-separator"))
	assert.False(t, hashutil.VerifyDigest([]byte("x"), "md5:abc"))
}
