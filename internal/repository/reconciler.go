package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler periodically heals partial dual-store writes.
type Reconciler struct {
	store    *DualStore
	interval time.Duration
	log      zerolog.Logger
}

func NewReconciler(store *DualStore, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, interval: interval, log: log}
}

// Run blocks until ctx is canceled, reconciling on each tick and once
// more on the way out.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.reconcile(context.Background())
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	pending := r.store.PendingCount()
	if pending == 0 {
		return
	}

	healed := r.store.Reconcile(ctx)
	r.log.Info().
		Int("pending", pending).
		Int("healed", healed).
		Msg("store reconciliation pass")
}
