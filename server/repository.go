package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aluiziolira/scrapedesk/models"
)

// Repository keeps extracted records in memory, in insertion order.
type Repository struct {
	mu      sync.RWMutex
	records []models.Record
	newID   func() string
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{records: []models.Record{}, newID: uuid.NewString}
}

// Write appends records, assigning an ID to each one that lacks it.
func (r *Repository) Write(records []models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = r.newID()
		}
		r.records = append(r.records, rec)
	}
	return nil
}

// All returns a copy of every stored record.
func (r *Repository) All() []models.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Delete removes every stored record matching one of items, by ID when the
// item carries one and by identity key otherwise. It returns how many
// records were removed.
func (r *Repository) Delete(items []models.Record) int {
	ids := make(map[string]struct{}, len(items))
	keys := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.ID != "" {
			ids[it.ID] = struct{}{}
			continue
		}
		keys[it.IdentityKey()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]models.Record, 0, len(r.records))
	for _, rec := range r.records {
		if _, ok := ids[rec.ID]; ok {
			continue
		}
		if _, ok := keys[rec.IdentityKey()]; ok {
			continue
		}
		kept = append(kept, rec)
	}
	removed := len(r.records) - len(kept)
	r.records = kept
	return removed
}
