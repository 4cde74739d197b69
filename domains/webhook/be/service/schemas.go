package service

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[EventType]string{
	EventInvoiceCreated:   "schemas/invoice_created.json",
	EventInvoicePaid:      "schemas/invoice_modified.json",
	EventInvoiceVoided:    "schemas/invoice_modified.json",
	EventInvoiceDeleted:   "schemas/invoice_modified.json",
	EventProductUpdated:   "schemas/product_updated.json",
	EventPriceCreated:     "schemas/price_created.json",
	EventPaymentSucceeded: "schemas/payment_succeeded.json",
}

// payloadSchemas are compiled once at init; the embedded files are part of
// the binary so a compile failure is a programming error.
var payloadSchemas = func() map[EventType]*jsonschema.Schema {
	compiled := make(map[EventType]*jsonschema.Schema, len(schemaFiles))
	for eventType, path := range schemaFiles {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("read embedded schema %s: %v", path, err))
		}
		schema, err := jsonschema.CompileString(path, string(raw))
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", path, err))
		}
		compiled[eventType] = schema
	}
	return compiled
}()

func validatePayload(eventType EventType, data json.RawMessage) error {
	schema, ok := payloadSchemas[eventType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}

	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	if err := schema.Validate(document); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	return nil
}
