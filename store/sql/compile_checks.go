package sqlstore

import "github.com/goliatone/go-reconciler/core"

var (
	_ core.EventStore   = (*PaymentEventStore)(nil)
	_ core.OrderStore   = (*OrderStore)(nil)
	_ core.PaymentStore = (*PaymentStore)(nil)
	_ core.ProductStore = (*ProductStore)(nil)
)
