package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/infrastructure/export/xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (rt *Router) createRequest(w http.ResponseWriter, r *http.Request) {
	content, header, err := rt.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var signers []domain.SignerInput
	if err := json.Unmarshal([]byte(r.FormValue("signers")), &signers); err != nil {
		writeError(w, r, domain.NewError(domain.ErrValidation, "create request", "signers must be a JSON array: %v", err))
		return
	}
	meta, err := rt.schemas.decodeDocument([]byte(r.FormValue("metadata")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	force, err := parseOptionalBool(r.FormValue("force"))
	if err != nil {
		writeError(w, r, domain.NewError(domain.ErrValidation, "create request", "force must be a boolean"))
		return
	}

	res, err := rt.svc.Submitter.Submit(r.Context(), domain.SubmitDocumentInput{
		OwnerID:     callerFromContext(r.Context()),
		Filename:    header.filename,
		MimeType:    header.mimeType,
		Content:     content,
		Metadata:    meta,
		SigningType: domain.SigningType(strings.TrimSpace(r.FormValue("signing_type"))),
		Signers:     signers,
		Force:       force,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Aggregate == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (rt *Router) getRequestStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := rt.svc.Status.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (rt *Router) getCurrentSigner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	signer, err := rt.svc.Queue.CurrentSigner(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":     id,
		"current_signer": signer,
	})
}

type signatureSubmission struct {
	Signature []byte          `json:"signature"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (rt *Router) submitSignature(w http.ResponseWriter, r *http.Request) {
	var body signatureSubmission
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "submit signature", err))
		return
	}
	meta, err := rt.schemas.decodeSignature(body.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.svc.Queue.SubmitSignature(r.Context(), domain.SubmitSignatureInput{
		RequestID: chi.URLParam(r, "id"),
		SignerID:  callerFromContext(r.Context()),
		Signature: body.Signature,
		Metadata:  meta,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) rejectRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, domain.WrapError(domain.ErrValidation, "reject request", err))
			return
		}
	}
	req, err := rt.svc.Queue.Reject(r.Context(), chi.URLParam(r, "id"), callerFromContext(r.Context()), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (rt *Router) finalizeRequest(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.svc.Finalizer.FinalizeRetry(r.Context(), chi.URLParam(r, "id"), callerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := rt.svc.Audit.Trail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (rt *Router) exportAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trail, err := rt.svc.Audit.Trail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="audit-`+sanitizeHeaderValue(id)+`.xlsx"`)
	if err := xlsx.WriteAuditTrail(w, trail); err != nil {
		logWriteFailure(r, err)
	}
}

func parseOptionalBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func sanitizeHeaderValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '\\' || r > 0x7e {
			return '_'
		}
		return r
	}, v)
}
