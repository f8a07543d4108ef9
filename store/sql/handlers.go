package sqlstore

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-reconciler/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func paymentEventHandlers() repository.ModelHandlers[*paymentEventRecord] {
	return repository.ModelHandlers[*paymentEventRecord]{
		NewRecord: func() *paymentEventRecord {
			return &paymentEventRecord{}
		},
		GetID: func(record *paymentEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *paymentEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *paymentEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func orderHandlers() repository.ModelHandlers[*orderRecord] {
	return repository.ModelHandlers[*orderRecord]{
		NewRecord: func() *orderRecord {
			return &orderRecord{}
		},
		GetID: func(record *orderRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *orderRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *orderRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func paymentHandlers() repository.ModelHandlers[*paymentRecord] {
	return repository.ModelHandlers[*paymentRecord]{
		NewRecord: func() *paymentRecord {
			return &paymentRecord{}
		},
		GetID: func(record *paymentRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *paymentRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *paymentRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func productHandlers() repository.ModelHandlers[*productRecord] {
	return repository.ModelHandlers[*productRecord]{
		NewRecord: func() *productRecord {
			return &productRecord{}
		},
		GetID: func(record *productRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *productRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *productRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func workQueueJobHandlers() repository.ModelHandlers[*workQueueJobRecord] {
	return repository.ModelHandlers[*workQueueJobRecord]{
		NewRecord: func() *workQueueJobRecord {
			return &workQueueJobRecord{}
		},
		GetID: func(record *workQueueJobRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *workQueueJobRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *workQueueJobRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

// recordID returns id in canonical form, or a new UUID when id is empty.
// Ids that are not UUIDs are rejected instead of being replaced.
func recordID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", core.BadInput(fmt.Sprintf("record id %q is not a UUID", id), map[string]any{"id": id})
	}
	return parsed.String(), nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
