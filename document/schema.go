package document

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/did-document.json
var documentSchemaJSON []byte

// ErrInvalidDocument is returned when a document does not match the DID
// Document shape.
var ErrInvalidDocument = errors.New("invalid DID document")

var (
	documentSchema    *gojsonschema.Schema
	documentSchemaErr error
	loadSchemaOnce    sync.Once
)

func loadSchema() (*gojsonschema.Schema, error) {
	loadSchemaOnce.Do(func() {
		documentSchema, documentSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(documentSchemaJSON))
		if documentSchemaErr != nil {
			documentSchemaErr = fmt.Errorf("failed to load DID document schema: %w", documentSchemaErr)
		}
	})
	return documentSchema, documentSchemaErr
}

// Validate checks doc against the DID Document JSON schema.
func Validate(doc *DIDDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	return validate(gojsonschema.NewGoLoader(doc))
}

// ValidateJSON checks a raw JSON document against the DID Document schema.
func ValidateJSON(data []byte) error {
	return validate(gojsonschema.NewBytesLoader(data))
}

func validate(loader gojsonschema.JSONLoader) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
	}

	return nil
}
