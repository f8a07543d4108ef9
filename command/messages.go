package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/webhooks"
)

const (
	TypeIngestPaymentEvent = "reconciler.command.payment_event.ingest"
	TypeRunReconciler      = "reconciler.command.reconciler.run"
	TypeNotifyVendorFollow = "reconciler.command.vendor_follow.notify"

	// MaxWebhookBodyBytes bounds an inbound webhook body.
	MaxWebhookBodyBytes = webhooks.DefaultMaxBodyBytes
)

// IngestPaymentEventMessage carries an unparsed webhook body and its
// signature header value.
type IngestPaymentEventMessage struct {
	ProviderID string
	RawBody    []byte
	Signature  string
}

func (IngestPaymentEventMessage) Type() string { return TypeIngestPaymentEvent }

// Validate only checks the envelope. The body is never inspected before the
// signature is verified.
func (m IngestPaymentEventMessage) Validate() error {
	if len(m.RawBody) > MaxWebhookBodyBytes {
		return commandValidationError("raw_body", "body exceeds the webhook size limit")
	}
	return nil
}

type RunReconcilerMessage struct {
	Name string
}

func (RunReconcilerMessage) Type() string { return TypeRunReconciler }

func (m RunReconcilerMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return commandValidationError("name", "reconciler name is required")
	}
	return nil
}

type NotifyVendorFollowMessage struct {
	VendorID   string
	FollowerID string
	FollowedAt time.Time
}

func (NotifyVendorFollowMessage) Type() string { return TypeNotifyVendorFollow }

func (m NotifyVendorFollowMessage) Validate() error {
	if strings.TrimSpace(m.VendorID) == "" {
		return commandValidationError("vendor_id", "vendor id is required")
	}
	if strings.TrimSpace(m.FollowerID) == "" {
		return commandValidationError("follower_id", "follower id is required")
	}
	if strings.TrimSpace(m.VendorID) == strings.TrimSpace(m.FollowerID) {
		return commandValidationError("follower_id", "vendors cannot follow themselves")
	}
	return nil
}
