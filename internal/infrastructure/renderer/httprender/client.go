package httprender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

// Client delegates evidence rendering to a remote service, e.g. a PDF
// stamping sidecar, over a small JSON protocol.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type embedRequest struct {
	DocumentID   string                     `json:"document_id"`
	Filename     string                     `json:"filename"`
	MimeType     string                     `json:"mime_type"`
	OriginalHash string                     `json:"original_hash"`
	Content      []byte                     `json:"content"`
	Signatures   []domain.EmbeddedSignature `json:"signatures"`
}

type embedResponse struct {
	Content []byte `json:"content"`
}

func (c *Client) Embed(ctx context.Context, doc *domain.Document, original []byte, signatures []domain.EmbeddedSignature) ([]byte, error) {
	payload := embedRequest{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		MimeType:     doc.MimeType,
		OriginalHash: doc.OriginalHash,
		Content:      original,
		Signatures:   signatures,
	}
	out, err := resilience.Do(ctx, c.executor, "renderer.embed", func(ctx context.Context) ([]byte, error) {
		var resp embedResponse
		if err := c.postJSON(ctx, "/v1/embed", payload, &resp, "embed"); err != nil {
			return nil, err
		}
		return resp.Content, nil
	}, classifyRenderError)
	if err != nil {
		return nil, wrapRenderError("renderer embed", err)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderer %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
