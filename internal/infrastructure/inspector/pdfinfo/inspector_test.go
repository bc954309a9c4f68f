package pdfinfo

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/signflow/internal/core/domain"
)

func TestNonPDFPassesThrough(t *testing.T) {
	meta, err := New().Inspect(context.Background(), "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentMetadata{}, meta)
}

func TestMalformedPDFIsValidationError(t *testing.T) {
	_, err := New().Inspect(context.Background(), "application/pdf", []byte("%PDF-1.4\nnot really a pdf"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrValidation), "got %v", err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("Application/PDF", nil))
	assert.True(t, isPDF("", []byte("%PDF-1.7")))
	assert.False(t, isPDF("image/png", []byte("\x89PNG")))
}

// minimalPDF assembles a valid two-page PDF with an Info title.
func minimalPDF(title string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
		"<< /Title (" + title + ") >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 5 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestInspectReadsPageCountAndTitle(t *testing.T) {
	meta, err := New().Inspect(context.Background(), "application/pdf", minimalPDF("Lease Agreement"))
	require.NoError(t, err)
	assert.Equal(t, 2, meta.PageCount)
	assert.Equal(t, "Lease Agreement", meta.Title)
}
