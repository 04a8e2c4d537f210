package records

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/aluiziolira/scrapedesk/models"
)

// FilterPredicate is the user's active content-type filter and title search.
type FilterPredicate struct {
	ContentType models.ContentType
	SearchText  string
}

// AllRecords matches everything.
func AllRecords() FilterPredicate {
	return FilterPredicate{ContentType: models.ContentTypeAll}
}

func (p FilterPredicate) matchesType(r models.Record) bool {
	return p.ContentType == "" || p.ContentType == models.ContentTypeAll || r.ContentType == p.ContentType
}

// ApplyFilter returns the records matching p in their original order:
// content-type equality first, then a case-insensitive substring match of
// SearchText against the title. The input is never modified.
func ApplyFilter(records []models.Record, p FilterPredicate) []models.Record {
	fold := cases.Fold()
	needle := fold.String(p.SearchText)

	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if !p.matchesType(r) {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(r.Title), needle) {
			continue
		}
		out = append(out, r)
	}
	return out
}
