package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

type HashAlgo string

const (
	HashAlgoSHA256 HashAlgo = "sha256"
	HashAlgoBLAKE3 HashAlgo = "blake3"
)

// HashBytes returns the hash of bytes as a hex string using the specified algorithm.
// Supported algorithms: "sha256" and "blake3".
func HashBytes(data []byte, algo HashAlgo) (string, error) {
	switch algo {
	case HashAlgoSHA256:
		return hashBytesSha256(data), nil
	case HashAlgoBLAKE3:
		return hashBytesBlake3(data), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

// Digest returns an algorithm-prefixed BLAKE3 digest, e.g. "blake3:af13...".
// Stored cache entries carry this so a refresh can tell whether content changed.
func Digest(data []byte) string {
	return string(HashAlgoBLAKE3) + ":" + hashBytesBlake3(data)
}

// VerifyDigest reports whether digest matches data. Unknown prefixes never match.
func VerifyDigest(data []byte, digest string) bool {
	algo, sum, ok := strings.Cut(digest, ":")
	if !ok {
		return false
	}
	got, err := HashBytes(data, HashAlgo(algo))
	if err != nil {
		return false
	}
	return got == sum
}

func hashBytesSha256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func hashBytesBlake3(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}
