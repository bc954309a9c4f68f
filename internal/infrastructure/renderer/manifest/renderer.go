package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/kirillkom/signflow/internal/core/domain"
)

const (
	beginMarker = "\n%SIGNFLOW-EVIDENCE-1\n"
	endMarker   = "\n%SIGNFLOW-EVIDENCE-END\n"
)

var ErrNoManifest = errors.New("document carries no evidence manifest")

// Manifest is the canonical evidence block appended to a signed document.
type Manifest struct {
	DocumentID   string      `json:"document_id"`
	Filename     string      `json:"filename"`
	MimeType     string      `json:"mime_type"`
	OriginalHash string      `json:"original_hash"`
	Signatures   []Signature `json:"signatures"`
}

type Signature struct {
	SignerID       string `json:"signer_id"`
	Order          int    `json:"order"`
	SignedAt       string `json:"signed_at"`
	Algorithm      string `json:"algorithm"`
	HashReferenced string `json:"hash_referenced"`
	KeyID          string `json:"key_id,omitempty"`
	PublicKey      string `json:"public_key,omitempty"`
	Signature      []byte `json:"signature"`
}

// Renderer appends an RFC 8785 canonical JSON manifest of the ordered
// signatures to the original bytes. PDF readers ignore data after %%EOF.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

func (r *Renderer) Embed(_ context.Context, doc *domain.Document, original []byte, signatures []domain.EmbeddedSignature) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to embed")
	}
	m := Manifest{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		MimeType:     doc.MimeType,
		OriginalHash: doc.OriginalHash,
		Signatures:   make([]Signature, 0, len(signatures)),
	}
	for _, s := range signatures {
		m.Signatures = append(m.Signatures, Signature{
			SignerID:       s.SignerID,
			Order:          s.Order,
			SignedAt:       s.SignedAt.UTC().Format(time.RFC3339Nano),
			Algorithm:      string(s.Metadata.Algorithm),
			HashReferenced: s.Metadata.HashReferenced,
			KeyID:          s.Metadata.KeyID,
			PublicKey:      s.Metadata.PublicKey,
			Signature:      s.Signature,
		})
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}

	out := make([]byte, 0, len(original)+len(canonical)+len(beginMarker)+len(endMarker))
	out = append(out, original...)
	out = append(out, beginMarker...)
	out = append(out, canonical...)
	out = append(out, endMarker...)
	return out, nil
}

// Extract splits rendered bytes back into the original content and its manifest.
func Extract(rendered []byte) ([]byte, *Manifest, error) {
	if !bytes.HasSuffix(rendered, []byte(endMarker)) {
		return nil, nil, ErrNoManifest
	}
	body := rendered[:len(rendered)-len(endMarker)]
	i := bytes.LastIndex(body, []byte(beginMarker))
	if i < 0 {
		return nil, nil, ErrNoManifest
	}
	var m Manifest
	if err := json.Unmarshal(body[i+len(beginMarker):], &m); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}
	return body[:i], &m, nil
}
