package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestPaymentEventMessage] = (*IngestPaymentEventCommand)(nil)
	_ gocmd.Commander[RunReconcilerMessage]      = (*RunReconcilerCommand)(nil)
	_ gocmd.Commander[NotifyVendorFollowMessage] = (*NotifyVendorFollowCommand)(nil)
)
