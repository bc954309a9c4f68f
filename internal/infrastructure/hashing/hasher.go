package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const (
	SHA256     = "sha256"
	SHA3_256   = "sha3-256"
	BLAKE2b256 = "blake2b-256"
)

// Hasher fingerprints bytes as "<algorithm>:<lowercase hex>".
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

func New(algorithm string) (*Hasher, error) {
	alg := strings.ToLower(strings.TrimSpace(algorithm))
	switch alg {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case SHA3_256:
		return &Hasher{algorithm: SHA3_256, newHash: sha3.New256}, nil
	case BLAKE2b256:
		return &Hasher{algorithm: BLAKE2b256, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil)
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

func (h *Hasher) Algorithm() string { return h.algorithm }

func (h *Hasher) Sum(data []byte) string {
	d := h.newHash()
	_, _ = d.Write(data)
	return h.algorithm + ":" + hex.EncodeToString(d.Sum(nil))
}

// Normalize accepts "<algorithm>:<hex>" or bare hex for the configured
// algorithm and returns the canonical form.
func (h *Hasher) Normalize(value string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", fmt.Errorf("hash is empty")
	}
	digest := v
	if alg, rest, ok := strings.Cut(v, ":"); ok {
		if alg != h.algorithm {
			return "", fmt.Errorf("hash algorithm %q does not match %q", alg, h.algorithm)
		}
		digest = rest
	}
	size := h.newHash().Size()
	if len(digest) != size*2 {
		return "", fmt.Errorf("%s digest must be %d hex characters, got %d", h.algorithm, size*2, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%s digest is not hex: %w", h.algorithm, err)
	}
	return h.algorithm + ":" + digest, nil
}
