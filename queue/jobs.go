package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/adapters/gojob"
)

const (
	QueueProductDeactivate        = gojob.JobProductDeactivate
	QueueVendorFollowNotification = gojob.JobVendorFollowNotification
)

// Payload is a typed job body. Kind names the queue it is submitted to.
type Payload interface {
	Kind() string
}

type ProductDeactivatePayload struct {
	ProductID     string    `json:"product_id"`
	VendorID      string    `json:"vendor_id"`
	Reason        string    `json:"reason"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

func (ProductDeactivatePayload) Kind() string {
	return QueueProductDeactivate
}

func (p ProductDeactivatePayload) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("queue: product_id is required")
	}
	if p.DeactivatedAt.IsZero() {
		return fmt.Errorf("queue: deactivated_at is required")
	}
	return nil
}

type VendorFollowPayload struct {
	VendorID   string    `json:"vendor_id"`
	FollowerID string    `json:"follower_id"`
	FollowedAt time.Time `json:"followed_at"`
}

func (VendorFollowPayload) Kind() string {
	return QueueVendorFollowNotification
}

func (p VendorFollowPayload) Validate() error {
	if strings.TrimSpace(p.VendorID) == "" {
		return fmt.Errorf("queue: vendor_id is required")
	}
	if strings.TrimSpace(p.FollowerID) == "" {
		return fmt.Errorf("queue: follower_id is required")
	}
	return nil
}

// ToParameters flattens a payload into job parameters through its JSON form.
func ToParameters(payload any) (map[string]any, error) {
	switch typed := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = value
		}
		return out, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode payload: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("queue: payload must encode to an object: %w", err)
	}
	return out, nil
}

// DecodeParameters fills target from job parameters, ignoring reserved keys.
func DecodeParameters(params map[string]any, target any) error {
	clean := make(map[string]any, len(params))
	for key, value := range params {
		if strings.HasPrefix(key, "_") {
			continue
		}
		clean[key] = value
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("queue: encode parameters: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("queue: decode parameters: %w", err)
	}
	return nil
}
