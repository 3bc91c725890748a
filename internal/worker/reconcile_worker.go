package worker

import (
	"context"

	"github.com/dsoc-platform/incident-escrow/internal/reconcile"
)

// StartReconcileWorker runs the reconciliation poller in the background
// until ctx is cancelled.
func StartReconcileWorker(ctx context.Context, poller *reconcile.Poller) {
	if poller == nil {
		return
	}
	go poller.Run(ctx)
}
