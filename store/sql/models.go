package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type paymentEventRecord struct {
	bun.BaseModel `bun:"table:payment_events,alias:pe"`

	ID            string    `bun:"id,pk"`
	Reference     string    `bun:"reference,notnull"`
	EventType     string    `bun:"event_type,notnull"`
	Payload       []byte    `bun:"payload,notnull"`
	ReceivedAt    time.Time `bun:"received_at,notnull"`
	DeliveryCount int       `bun:"delivery_count,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type orderRecord struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID            string     `bun:"id,pk"`
	Status        string     `bun:"status,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	CancelledAt   *time.Time `bun:"cancelled_at,nullzero"`
	LastCheckedAt *time.Time `bun:"last_checked_at,nullzero"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:payments,alias:p"`

	ID            string     `bun:"id,pk"`
	Reference     string     `bun:"reference,notnull"`
	OrderID       string     `bun:"order_id,notnull"`
	Status        string     `bun:"status,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ResolvedAt    *time.Time `bun:"resolved_at,nullzero"`
	LastCheckedAt *time.Time `bun:"last_checked_at,nullzero"`
}

type productRecord struct {
	bun.BaseModel `bun:"table:products,alias:pr"`

	ID              string     `bun:"id,pk"`
	VendorID        string     `bun:"vendor_id,notnull"`
	Name            string     `bun:"name,notnull"`
	ScheduledLiveAt *time.Time `bun:"scheduled_live_at,nullzero"`
	ScheduledEndAt  *time.Time `bun:"scheduled_end_at,nullzero"`
	IsLive          bool       `bun:"is_live,notnull"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	LastCheckedAt   *time.Time `bun:"last_checked_at,nullzero"`
}

type workQueueJobRecord struct {
	bun.BaseModel `bun:"table:work_queue_jobs,alias:wq"`

	ID             string         `bun:"id,pk"`
	Queue          string         `bun:"queue,notnull"`
	JobID          string         `bun:"job_id,notnull"`
	ScriptPath     string         `bun:"script_path,notnull"`
	Parameters     map[string]any `bun:"parameters,type:jsonb,notnull"`
	IdempotencyKey *string        `bun:"idempotency_key"`
	Status         string         `bun:"status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	LeaseToken     string         `bun:"lease_token,notnull"`
	AvailableAt    time.Time      `bun:"available_at,notnull"`
	LastError      string         `bun:"last_error,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
