package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/copilot-platforms/xero-integration/gateway/copilot"
)

// EventType identifies a webhook event kind. The set is closed: the
// dispatcher switches exhaustively over the Event union, so adding a type is
// a compile-time change, not a map entry.
type EventType string

const (
	EventInvoiceCreated   EventType = "invoice.created"
	EventInvoicePaid      EventType = "invoice.paid"
	EventInvoiceVoided    EventType = "invoice.voided"
	EventInvoiceDeleted   EventType = "invoice.deleted"
	EventProductUpdated   EventType = "product.updated"
	EventPriceCreated     EventType = "price.created"
	EventPaymentSucceeded EventType = "payment.succeeded"
)

// Event is the closed union of webhook payloads. Only types in this package
// implement it.
type Event interface {
	// ResourceID keys the dead-letter row for this event.
	ResourceID() string
	isEvent()
}

// InvoiceCreated carries the full source invoice.
type InvoiceCreated struct {
	Invoice copilot.Invoice
}

// InvoicePaid, InvoiceVoided and InvoiceDeleted carry only the invoice id;
// the sync services re-resolve everything else.
type InvoicePaid struct {
	InvoiceID string
}

type InvoiceVoided struct {
	InvoiceID string
}

type InvoiceDeleted struct {
	InvoiceID string
}

// ProductUpdated carries the changed product fields.
type ProductUpdated struct {
	ID          string
	Name        string
	Description string
}

// PriceCreated carries a new price point. Amount is minor units.
type PriceCreated struct {
	ID        string
	ProductID string
	Amount    int64
}

// PaymentSucceeded carries the settled payment and its fee split, minor units.
type PaymentSucceeded struct {
	ID                string
	InvoiceID         string
	Status            string
	PaymentMethod     string
	FeePaidByPlatform int64
	FeePaidByClient   int64
}

func (e InvoiceCreated) ResourceID() string   { return e.Invoice.ID }
func (e InvoicePaid) ResourceID() string      { return e.InvoiceID }
func (e InvoiceVoided) ResourceID() string    { return e.InvoiceID }
func (e InvoiceDeleted) ResourceID() string   { return e.InvoiceID }
func (e ProductUpdated) ResourceID() string   { return e.ID }
func (e PriceCreated) ResourceID() string     { return e.ID }
func (e PaymentSucceeded) ResourceID() string { return e.ID }

func (InvoiceCreated) isEvent()   {}
func (InvoicePaid) isEvent()      {}
func (InvoiceVoided) isEvent()    {}
func (InvoiceDeleted) isEvent()   {}
func (ProductUpdated) isEvent()   {}
func (PriceCreated) isEvent()     {}
func (PaymentSucceeded) isEvent() {}

// TypeOf maps a concrete event back to its wire name.
func TypeOf(e Event) EventType {
	switch e.(type) {
	case InvoiceCreated:
		return EventInvoiceCreated
	case InvoicePaid:
		return EventInvoicePaid
	case InvoiceVoided:
		return EventInvoiceVoided
	case InvoiceDeleted:
		return EventInvoiceDeleted
	case ProductUpdated:
		return EventProductUpdated
	case PriceCreated:
		return EventPriceCreated
	case PaymentSucceeded:
		return EventPaymentSucceeded
	default:
		panic(fmt.Sprintf("unhandled event type %T", e))
	}
}

// Envelope is one decoded webhook delivery. Data keeps the raw payload so
// the dead-letter store can replay the exact delivery.
type Envelope struct {
	Type  EventType
	Data  json.RawMessage
	Event Event
}

// ErrUnknownEvent marks an event type outside the supported set.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrInvalidPayload marks a payload that failed schema validation.
var ErrInvalidPayload = errors.New("invalid event payload")

// ParseEnvelope validates and decodes one webhook delivery. Unknown event
// types and schema violations are reported as typed errors so the HTTP layer
// can acknowledge them neutrally instead of failing the delivery.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var outer struct {
		EventType EventType       `json:"eventType"`
		Data      json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&outer); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	if outer.EventType == "" || len(outer.Data) == 0 {
		return Envelope{}, fmt.Errorf("%w: envelope requires eventType and data", ErrInvalidPayload)
	}

	if err := validatePayload(outer.EventType, outer.Data); err != nil {
		return Envelope{}, err
	}

	event, err := decodeEvent(outer.EventType, outer.Data)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Type: outer.EventType, Data: outer.Data, Event: event}, nil
}

// EnvelopeFor rebuilds an envelope from a stored event type and payload. The
// dead-letter retry loop uses it to replay deliveries exactly as captured.
func EnvelopeFor(eventType EventType, data json.RawMessage) (Envelope, error) {
	if err := validatePayload(eventType, data); err != nil {
		return Envelope{}, err
	}
	event, err := decodeEvent(eventType, data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: data, Event: event}, nil
}

func decodeEvent(eventType EventType, data json.RawMessage) (Event, error) {
	switch eventType {
	case EventInvoiceCreated:
		var invoice copilot.Invoice
		if err := json.Unmarshal(data, &invoice); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return InvoiceCreated{Invoice: invoice}, nil

	case EventInvoicePaid, EventInvoiceVoided, EventInvoiceDeleted:
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		switch eventType {
		case EventInvoicePaid:
			return InvoicePaid{InvoiceID: ref.ID}, nil
		case EventInvoiceVoided:
			return InvoiceVoided{InvoiceID: ref.ID}, nil
		default:
			return InvoiceDeleted{InvoiceID: ref.ID}, nil
		}

	case EventProductUpdated:
		var payload struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return ProductUpdated{ID: payload.ID, Name: payload.Name, Description: payload.Description}, nil

	case EventPriceCreated:
		var payload struct {
			ID        string `json:"id"`
			ProductID string `json:"productId"`
			Amount    int64  `json:"amount"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return PriceCreated{ID: payload.ID, ProductID: payload.ProductID, Amount: payload.Amount}, nil

	case EventPaymentSucceeded:
		var payload struct {
			ID            string `json:"id"`
			InvoiceID     string `json:"invoiceId"`
			Status        string `json:"status"`
			PaymentMethod string `json:"paymentMethod"`
			FeeAmount     struct {
				PaidByPlatform int64 `json:"paidByPlatform"`
				PaidByClient   int64 `json:"paidByClient"`
			} `json:"feeAmount"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return PaymentSucceeded{
			ID:                payload.ID,
			InvoiceID:         payload.InvoiceID,
			Status:            payload.Status,
			PaymentMethod:     payload.PaymentMethod,
			FeePaidByPlatform: payload.FeeAmount.PaidByPlatform,
			FeePaidByClient:   payload.FeeAmount.PaidByClient,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
}
