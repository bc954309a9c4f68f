package usecase

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

var errNoPublicKey = errors.New("no public key supplied")

// checkSignature validates a signature blob and its metadata against the
// document's original hash. A supplied public key is also verified.
func checkSignature(hasher ports.Hasher, blob []byte, meta domain.SignatureMetadata, originalHash string) error {
	const op = "check signature"
	if len(blob) == 0 {
		return domain.NewError(domain.ErrValidation, op, "signature is empty")
	}
	if !meta.Algorithm.Valid() {
		return domain.NewError(domain.ErrValidation, op, "unknown signature algorithm %q", meta.Algorithm)
	}
	referenced, err := hasher.Normalize(meta.HashReferenced)
	if err != nil {
		return domain.WrapError(domain.ErrValidation, op, err)
	}
	if referenced != originalHash {
		return domain.NewError(domain.ErrValidation, op, "signature references %s, document hash is %s", referenced, originalHash)
	}
	if meta.PublicKey == "" {
		return nil
	}
	ok, err := verifyCryptographic(meta, referenced, blob)
	if err != nil {
		return domain.WrapError(domain.ErrValidation, op, err)
	}
	if !ok {
		return domain.NewError(domain.ErrValidation, op, "signature does not verify against key %q", meta.KeyID)
	}
	return nil
}

// verifyCryptographic checks blob as a signature over the referenced hash
// string using the public key carried in meta.
func verifyCryptographic(meta domain.SignatureMetadata, referencedHash string, blob []byte) (bool, error) {
	if meta.PublicKey == "" {
		return false, errNoPublicKey
	}
	raw, err := base64.StdEncoding.DecodeString(meta.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	msg := []byte(referencedHash)
	digest := sha256.Sum256(msg)

	switch meta.Algorithm {
	case domain.AlgorithmEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return false, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		return ed25519.Verify(ed25519.PublicKey(raw), msg, blob), nil
	case domain.AlgorithmECDSAP256:
		pub, err := parsePKIX(raw)
		if err != nil {
			return false, err
		}
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok || key.Curve != elliptic.P256() {
			return false, errors.New("public key is not an ECDSA P-256 key")
		}
		return ecdsa.VerifyASN1(key, digest[:], blob), nil
	case domain.AlgorithmRSAPSSSHA256:
		pub, err := parsePKIX(raw)
		if err != nil {
			return false, err
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return false, errors.New("public key is not an RSA key")
		}
		return rsa.VerifyPSS(key, crypto.SHA256, digest[:], blob, nil) == nil, nil
	case domain.AlgorithmDrawn:
		return false, errors.New("drawn signatures cannot carry a public key")
	default:
		return false, fmt.Errorf("unknown signature algorithm %q", meta.Algorithm)
	}
}

func parsePKIX(raw []byte) (any, error) {
	pub, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
