// Package records holds the canonical list of extracted records and the
// derived view, selection and deletion logic built on top of it.
package records

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aluiziolira/scrapedesk/models"
)

// Loader fetches the full canonical record list.
type Loader interface {
	FetchRecords(ctx context.Context) ([]models.Record, error)
}

// Store owns the canonical records, the active filter, the derived view,
// the site summary and the selection. The canonical list changes only by
// wholesale replacement (Load) or set subtraction (Remove); every change
// recomputes the view and clears the selection.
type Store struct {
	loader Loader
	hosts  *HostResolver
	logger *slog.Logger

	mu        sync.Mutex
	records   []models.Record
	filter    FilterPredicate
	view      []models.Record
	summary   SiteSummary
	selection *Selection
}

// NewStore returns an empty store.
func NewStore(loader Loader, hosts *HostResolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if hosts == nil {
		hosts = NewHostResolver(1024, logger)
	}
	return &Store{
		loader:    loader,
		hosts:     hosts,
		logger:    logger,
		records:   []models.Record{},
		filter:    AllRecords(),
		view:      []models.Record{},
		summary:   SiteSummary{},
		selection: NewSelection(0),
	}
}

// Load replaces the canonical list with the service's records. On failure
// the list is emptied and the error returned.
func (s *Store) Load(ctx context.Context) error {
	fetched, err := s.loader.FetchRecords(ctx)
	if err != nil {
		s.logger.Error("load records", slog.Any("error", err))
		s.Replace(nil)
		return err
	}
	s.Replace(fetched)
	s.logger.Debug("records loaded", slog.Int("count", len(fetched)))
	return nil
}

// Replace swaps in records as the canonical list.
func (s *Store) Replace(records []models.Record) {
	owned := make([]models.Record, len(records))
	copy(owned, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = owned
	s.recomputeLocked()
}

// Remove drops every canonical record whose Key is in keys and returns how
// many were removed.
func (s *Store) Remove(keys map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]models.Record, 0, len(s.records))
	for _, r := range s.records {
		if _, ok := keys[r.Key()]; ok {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(s.records) - len(kept)
	s.records = kept
	s.recomputeLocked()
	return removed
}

// SetFilter changes the active predicate and recomputes the view.
func (s *Store) SetFilter(p FilterPredicate) {
	if p.ContentType == "" {
		p.ContentType = models.ContentTypeAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = p
	s.recomputeLocked()
}

// Filter returns the active predicate.
func (s *Store) Filter() FilterPredicate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Records returns a copy of the canonical list.
func (s *Store) Records() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.records)
}

// View returns a copy of the derived view.
func (s *Store) View() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.view)
}

// Summary returns a copy of the site summary.
func (s *Store) Summary() SiteSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(SiteSummary, len(s.summary))
	for host, count := range s.summary {
		out[host] = count
	}
	return out
}

// Toggle flips the selection of view row pos.
func (s *Store) Toggle(pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Toggle(pos)
}

// ToggleAll selects all view rows, or clears them when all are selected.
func (s *Store) ToggleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.ToggleAll()
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Reset(len(s.view))
}

// Selected returns the selected view positions in ascending order.
func (s *Store) Selected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Current()
}

// AllSelected reports whether every row of the view is selected.
func (s *Store) AllSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.AllSelected()
}

// SelectedRecords maps the selected positions onto view records.
func (s *Store) SelectedRecords() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := s.selection.Current()
	out := make([]models.Record, 0, len(positions))
	for _, pos := range positions {
		out = append(out, s.view[pos])
	}
	return out
}

func (s *Store) recomputeLocked() {
	s.view = ApplyFilter(s.records, s.filter)
	s.summary = s.hosts.Summarize(s.records)
	s.selection.Reset(len(s.view))
}

func cloneRecords(in []models.Record) []models.Record {
	out := make([]models.Record, len(in))
	copy(out, in)
	return out
}
