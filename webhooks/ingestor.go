package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// Ack acknowledges a stored event. Duplicates are acknowledged too so the
// provider stops retrying.
type Ack struct {
	Reference string
	EventType string
	Created   bool
}

type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type eventData struct {
	Reference json.RawMessage `json:"reference"`
}

// DefaultMaxBodyBytes bounds a webhook body accepted by NewIngestor.
const DefaultMaxBodyBytes = 1 << 20

type Ingestor struct {
	Verifier        Verifier
	Store           core.EventStore
	ProviderID      string
	SignatureHeader string
	Observer        *core.Observer
	Now             func() time.Time
	// MaxBodyBytes is enforced after the signature check. Zero disables it.
	MaxBodyBytes int
}

func NewIngestor(verifier Verifier, store core.EventStore) *Ingestor {
	return &Ingestor{
		Verifier:        verifier,
		Store:           store,
		ProviderID:      core.DefaultWebhookProvider,
		SignatureHeader: core.DefaultSignatureHeader,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Ingest verifies rawBody against signature before any size check or
// parsing, then upserts the event under (data.reference, event).
func (i *Ingestor) Ingest(ctx context.Context, rawBody []byte, signature string) (Ack, error) {
	startedAt := time.Now()
	ack, err := i.ingest(ctx, rawBody, signature)
	if i != nil && i.Observer != nil {
		status := "stored"
		switch {
		case err != nil && core.IsUnauthorized(err):
			status = "unauthorized"
		case err != nil:
			status = "failure"
		case !ack.Created:
			status = "deduped"
		}
		i.Observer.Observe(ctx, startedAt, "webhook_ingest", status, err, map[string]any{
			"provider_id": i.providerID(),
			"reference":   ack.Reference,
			"event_type":  ack.EventType,
		})
	}
	return ack, err
}

func (i *Ingestor) ingest(ctx context.Context, rawBody []byte, signature string) (Ack, error) {
	if i == nil || i.Verifier == nil || i.Store == nil {
		return Ack{}, core.Internal("webhooks: ingestor requires verifier and store", nil)
	}
	providerID := i.providerID()
	if strings.TrimSpace(signature) == "" {
		return Ack{}, core.Unauthorized("webhooks: signature header is required", map[string]any{
			"provider_id": providerID,
		})
	}
	req := core.InboundRequest{
		ProviderID: providerID,
		Headers:    map[string]string{i.signatureHeader(): signature},
		Body:       rawBody,
	}
	if err := i.Verifier.Verify(ctx, req); err != nil {
		if core.IsUnauthorized(err) {
			return Ack{}, err
		}
		return Ack{}, core.Unauthorized(err.Error(), map[string]any{"provider_id": providerID})
	}
	if i.MaxBodyBytes > 0 && len(rawBody) > i.MaxBodyBytes {
		return Ack{}, core.BadInput("webhooks: body exceeds the webhook size limit", map[string]any{
			"provider_id": providerID,
			"max_bytes":   i.MaxBodyBytes,
		})
	}

	key, err := ParseEventKey(rawBody)
	if err != nil {
		return Ack{}, err
	}

	result, err := i.Store.Upsert(ctx, core.PaymentEvent{
		Reference:  key.Reference,
		EventType:  key.EventType,
		Payload:    append([]byte(nil), rawBody...),
		ReceivedAt: i.now(),
	})
	if err != nil {
		if core.IsStoreUnavailable(err) {
			return Ack{}, err
		}
		return Ack{}, core.StoreUnavailable(err, "webhooks: store payment event", map[string]any{
			"reference":  key.Reference,
			"event_type": key.EventType,
		})
	}
	return Ack{
		Reference: key.Reference,
		EventType: key.EventType,
		Created:   result.Created,
	}, nil
}

// Process adapts a header-map inbound request to Ingest.
func (i *Ingestor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	signature := headerValue(req.Headers, i.signatureHeader())
	ack, err := i.Ingest(ctx, req.Body, signature)
	if err != nil {
		return core.InboundResult{
			Accepted:   false,
			StatusCode: core.StatusCode(err),
			Metadata: map[string]any{
				"provider_id": i.providerID(),
				"rejected":    core.IsUnauthorized(err),
			},
		}, err
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"provider_id": i.providerID(),
			"reference":   ack.Reference,
			"event_type":  ack.EventType,
			"deduped":     !ack.Created,
		},
	}, nil
}

// ParseEventKey extracts (data.reference, event) from a verified body.
func ParseEventKey(rawBody []byte) (core.EventKey, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return core.EventKey{}, core.MalformedPayload(err, "webhooks: verified payload is not valid json", nil)
	}
	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		return core.EventKey{}, core.MalformedPayload(nil, "webhooks: payload event is required", nil)
	}
	if len(bytes.TrimSpace(envelope.Data)) == 0 || bytes.Equal(bytes.TrimSpace(envelope.Data), []byte("null")) {
		return core.EventKey{}, core.MalformedPayload(nil, "webhooks: payload data is required", map[string]any{
			"event_type": eventType,
		})
	}
	var data eventData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return core.EventKey{}, core.MalformedPayload(err, "webhooks: payload data must be an object", map[string]any{
			"event_type": eventType,
		})
	}
	reference, err := referenceString(data.Reference)
	if err != nil {
		return core.EventKey{}, core.MalformedPayload(err, "webhooks: payload data.reference is invalid", map[string]any{
			"event_type": eventType,
		})
	}
	return core.EventKey{Reference: reference, EventType: eventType}, nil
}

func referenceString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("reference is required")
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			return "", fmt.Errorf("reference is empty")
		}
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err == nil && number.String() != "" {
		return number.String(), nil
	}
	return "", fmt.Errorf("reference must be a string or number")
}

func (i *Ingestor) providerID() string {
	if i != nil && strings.TrimSpace(i.ProviderID) != "" {
		return strings.TrimSpace(i.ProviderID)
	}
	return core.DefaultWebhookProvider
}

func (i *Ingestor) signatureHeader() string {
	if i != nil && strings.TrimSpace(i.SignatureHeader) != "" {
		return strings.TrimSpace(i.SignatureHeader)
	}
	if i != nil {
		if verifier, ok := i.Verifier.(HeaderHMACVerifier); ok && strings.TrimSpace(verifier.Header) != "" {
			return strings.TrimSpace(verifier.Header)
		}
	}
	return core.DefaultSignatureHeader
}

func (i *Ingestor) now() time.Time {
	if i != nil && i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}
