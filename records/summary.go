package records

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/scrapedesk/models"
)

// SiteSummary maps hostnames to the number of records extracted from them.
type SiteSummary map[string]int

// SiteCount is one row of a sorted summary.
type SiteCount struct {
	Host  string
	Count int
}

// Sorted returns the summary by descending count, then host.
func (s SiteSummary) Sorted() []SiteCount {
	out := make([]SiteCount, 0, len(s))
	for host, count := range s {
		out = append(out, SiteCount{Host: host, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Host < out[j].Host
	})
	return out
}

// HostResolver derives hostnames from source URLs, memoising results in a
// bounded LRU cache.
type HostResolver struct {
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// NewHostResolver builds a resolver holding at most size entries.
func NewHostResolver(size int, logger *slog.Logger) *HostResolver {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &HostResolver{cache: cache, logger: logger}
}

// Host returns the hostname of raw, or raw itself when it does not parse to
// a URL with a host.
func (h *HostResolver) Host(raw string) string {
	if host, ok := h.cache.Get(raw); ok {
		return host
	}
	host := hostname(raw)
	if host == raw {
		h.logger.Debug("source url has no parsable host", slog.String("source", raw))
	}
	h.cache.Add(raw, host)
	return host
}

func hostname(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Hostname() == "" {
		return raw
	}
	return parsed.Hostname()
}

// Summarize counts records per hostname.
func (h *HostResolver) Summarize(records []models.Record) SiteSummary {
	summary := make(SiteSummary)
	for _, r := range records {
		summary[h.Host(r.SourceURL)]++
	}
	return summary
}
