// Package webhooks verifies and ingests payment provider webhooks.
//
// Ingestion is verify -> parse -> idempotent upsert keyed by
// (data.reference, event). Storage and reaction are decoupled: nothing here
// enqueues downstream work, reconcilers react to stored events on their own
// schedule.
package webhooks
