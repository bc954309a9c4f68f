package httpadapter

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/signflow/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://signflow.local/schemas/"

// metadataSchemas validates the free-form JSON callers send for document
// and signature metadata before it is decoded into domain types.
type metadataSchemas struct {
	document  *jsonschema.Schema
	signature *jsonschema.Schema
}

func compileMetadataSchemas() (*metadataSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	out := &metadataSchemas{}
	for name, target := range map[string]**jsonschema.Schema{
		"document_metadata.json":  &out.document,
		"signature_metadata.json": &out.signature,
	} {
		raw, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", name, err)
		}
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		*target = compiled
	}
	return out, nil
}

func (s *metadataSchemas) decodeDocument(raw []byte) (domain.DocumentMetadata, error) {
	var out domain.DocumentMetadata
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	err := decodeValidated(s.document, "document metadata", raw, &out)
	return out, err
}

func (s *metadataSchemas) decodeSignature(raw []byte) (domain.SignatureMetadata, error) {
	var out domain.SignatureMetadata
	err := decodeValidated(s.signature, "signature metadata", raw, &out)
	return out, err
}

func decodeValidated(schema *jsonschema.Schema, what string, raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.NewError(domain.ErrValidation, "decode "+what, "%s is required", what)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.NewError(domain.ErrValidation, "decode "+what, "invalid json: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.NewError(domain.ErrValidation, "decode "+what, "%v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewError(domain.ErrValidation, "decode "+what, "%v", err)
	}
	return nil
}
