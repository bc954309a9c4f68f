package pdfinfo

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/signflow/internal/core/domain"
)

// Inspector reads page count and title from PDF uploads. Other formats
// pass through with empty metadata.
type Inspector struct{}

func New() *Inspector { return &Inspector{} }

func (i *Inspector) Inspect(_ context.Context, mimeType string, content []byte) (meta domain.DocumentMetadata, err error) {
	if !isPDF(mimeType, content) {
		return domain.DocumentMetadata{}, nil
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			meta = domain.DocumentMetadata{}
			err = domain.NewError(domain.ErrValidation, "inspect pdf", "unreadable pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return domain.DocumentMetadata{}, domain.WrapError(domain.ErrValidation, "inspect pdf", fmt.Errorf("unreadable pdf: %w", err))
	}
	meta.PageCount = reader.NumPage()
	meta.Title = strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
	return meta, nil
}

func isPDF(mimeType string, content []byte) bool {
	if strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(content, []byte("%PDF-"))
}
