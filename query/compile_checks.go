package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-reconciler/core"
)

var (
	_ gocmd.Querier[GetPaymentEventMessage, core.PaymentEvent]   = (*GetPaymentEventQuery)(nil)
	_ gocmd.Querier[ListReconcilersMessage, []ReconcilerState] = (*ListReconcilersQuery)(nil)
)
