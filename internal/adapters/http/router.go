package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/signflow/internal/config"
	"github.com/kirillkom/signflow/internal/core/ports"
	"github.com/kirillkom/signflow/internal/observability/metrics"
	"github.com/kirillkom/signflow/internal/observability/tracing"
)

const serviceName = "api"

// Services are the inbound ports the router drives.
type Services struct {
	Submitter   ports.DocumentSubmitter
	Queue       ports.SignerQueue
	Finalizer   ports.Finalizer
	Duplicates  ports.DuplicateChecker
	Verifier    ports.Verifier
	Status      ports.RequestStatusReader
	Audit       ports.AuditTrailReader
	Content     ports.DocumentContentReader
	Idempotency ports.IdempotencyStore
	Metrics     *metrics.HTTPServerMetrics
}

type Router struct {
	cfg      config.Config
	svc      Services
	auth     *authenticator
	contract *contractValidator
	schemas  *metadataSchemas
}

func NewRouter(cfg config.Config, svc Services) (*Router, error) {
	schemas, err := compileMetadataSchemas()
	if err != nil {
		return nil, err
	}
	rt := &Router{
		cfg:     cfg,
		svc:     svc,
		auth:    newAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		schemas: schemas,
	}
	if cfg.APIRequestValidation {
		contract, err := newContractValidator(context.Background())
		if err != nil {
			return nil, err
		}
		rt.contract = contract
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	if rt.svc.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.svc.Metrics.Middleware(serviceName, next)
		})
	}
	r.Use(tracing.Middleware(serviceName))

	r.Get("/healthz", rt.healthz)
	if rt.svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.svc.Metrics.Handler())
	}
	r.Get("/openapi.yaml", rt.openAPI)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.rejected)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.rejected)
		})
		r.Use(rt.auth.middleware)
		if rt.contract != nil {
			r.Use(rt.contract.middleware)
		}

		r.Route("/v1/requests", func(r chi.Router) {
			r.Post("/", rt.createRequest)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.getRequestStatus)
				r.Get("/current-signer", rt.getCurrentSigner)
				r.Method(http.MethodPost, "/signatures",
					idempotencyMiddleware(rt.svc.Idempotency, rt.cfg.IdempotencyTTL, http.HandlerFunc(rt.submitSignature)))
				r.Post("/reject", rt.rejectRequest)
				r.Post("/finalize", rt.finalizeRequest)
				r.Get("/audit", rt.getAuditTrail)
				r.Get("/audit.xlsx", rt.exportAuditTrail)
			})
		})
		r.Post("/v1/documents/duplicates", rt.checkDuplicate)
		r.Get("/v1/documents/{id}/content", rt.getDocumentContent)
		r.Post("/v1/verify", rt.verify)
	})
	return r
}

func (rt *Router) rejected(reason string) {
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(openAPISpec); err != nil {
		logWriteFailure(r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
