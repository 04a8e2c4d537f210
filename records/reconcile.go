package records

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/models"
)

// ErrNothingSelected is returned when a bulk delete has no rows to act on.
var ErrNothingSelected = errors.New("no records selected")

// Deleter removes records from the service in one batch.
type Deleter interface {
	DeleteRecords(ctx context.Context, items []models.Record) error
}

// Reconciler deletes the selected view rows on the service and, once the
// service acknowledges, subtracts them from the store.
type Reconciler struct {
	store   *Store
	deleter Deleter
	logger  *slog.Logger
}

// NewReconciler wires a reconciler to store and deleter.
func NewReconciler(store *Store, deleter Deleter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, deleter: deleter, logger: logger}
}

// DeleteSelected sends every selected record in one request. The store is
// only touched after the service reports success, and then all deleted
// keys are removed at once. On any failure the store is left as it was,
// even if the service removed some records before failing.
func (r *Reconciler) DeleteSelected(ctx context.Context) (int, error) {
	selected := r.store.SelectedRecords()
	if len(selected) == 0 {
		return 0, client.ValidationError{Message: "Select at least one record to delete", Err: ErrNothingSelected}
	}

	if err := r.deleter.DeleteRecords(ctx, selected); err != nil {
		r.logger.Error("delete records",
			slog.Int("selected", len(selected)),
			slog.String("kind", client.Kind(err)),
			slog.Any("error", err),
		)
		return 0, err
	}

	keys := make(map[string]struct{}, len(selected))
	for _, rec := range selected {
		keys[rec.Key()] = struct{}{}
	}
	removed := r.store.Remove(keys)
	r.logger.Info("records deleted",
		slog.Int("selected", len(selected)),
		slog.Int("removed", removed),
	)
	return removed, nil
}
