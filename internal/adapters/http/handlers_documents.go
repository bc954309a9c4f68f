package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/signflow/internal/core/domain"
)

type uploadHeader struct {
	filename string
	mimeType string
}

// readUpload parses a multipart body and returns the "file" part, bounded by
// the configured upload limit.
func (rt *Router) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, uploadHeader, error) {
	limit := rt.cfg.APIMaxUploadBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, uploadHeader{}, domain.NewError(domain.ErrValidation, "read upload", "upload exceeds %d bytes", limit)
		}
		return nil, uploadHeader{}, domain.NewError(domain.ErrValidation, "read upload", "multipart body is required: %v", err)
	}
	file, fh, err := r.FormFile("file")
	if err != nil {
		return nil, uploadHeader{}, domain.NewError(domain.ErrValidation, "read upload", "multipart field 'file' is required")
	}
	defer file.Close()
	if fh.Size > limit {
		return nil, uploadHeader{}, domain.NewError(domain.ErrValidation, "read upload", "upload exceeds %d bytes", limit)
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, uploadHeader{}, domain.WrapError(domain.ErrValidation, "read upload", err)
	}
	return content, uploadHeader{
		filename: fh.Filename,
		mimeType: fh.Header.Get("Content-Type"),
	}, nil
}

func (rt *Router) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hash string `json:"hash"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "check duplicate", err))
		return
	}
	check, err := rt.svc.Duplicates.Check(r.Context(), body.Hash, callerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (rt *Router) getDocumentContent(w http.ResponseWriter, r *http.Request) {
	variant := domain.VariantOriginal
	if v := strings.TrimSpace(r.URL.Query().Get("variant")); v != "" {
		variant = domain.ContentVariant(v)
	}
	doc, body, err := rt.svc.Content.Content(r.Context(), chi.URLParam(r, "id"), variant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	if variant == domain.VariantSigned {
		w.Header().Set("X-Document-Hash", doc.SignedHash)
	} else {
		w.Header().Set("X-Document-Hash", doc.OriginalHash)
	}
	if _, err := io.Copy(w, body); err != nil {
		logWriteFailure(r, err)
	}
}

type verifyByHash struct {
	Hash    string                    `json:"hash"`
	Claimed []domain.ClaimedSignature `json:"claimed_signers"`
}

func (rt *Router) verify(w http.ResponseWriter, r *http.Request) {
	in := domain.VerifyInput{ActorID: callerFromContext(r.Context())}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		content, _, err := rt.readUpload(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.Content = content
		if raw := strings.TrimSpace(r.FormValue("claimed_signers")); raw != "" {
			if err := json.Unmarshal([]byte(raw), &in.Claimed); err != nil {
				writeError(w, r, domain.NewError(domain.ErrValidation, "verify", "claimed_signers must be a JSON array: %v", err))
				return
			}
		}
	} else {
		var body verifyByHash
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, domain.WrapError(domain.ErrValidation, "verify", err))
			return
		}
		in.Hash = body.Hash
		in.Claimed = body.Claimed
	}

	result, err := rt.svc.Verifier.Verify(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
