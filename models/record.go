// Package models defines data structures shared by the client and the service.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentType identifies the kind of page a record was extracted from.
type ContentType string

const (
	ContentTypeBooks   ContentType = "books"
	ContentTypeMovies  ContentType = "movies"
	ContentTypeTVShows ContentType = "tvshows"

	// ContentTypeAll is only valid as a filter value.
	ContentTypeAll ContentType = "all"
)

// ContentTypes lists the concrete content types in display order.
var ContentTypes = []ContentType{ContentTypeBooks, ContentTypeMovies, ContentTypeTVShows}

// ParseContentType maps user input onto a concrete content type.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypeBooks, "":
		return ContentTypeBooks, nil
	case ContentTypeMovies:
		return ContentTypeMovies, nil
	case ContentTypeTVShows:
		return ContentTypeTVShows, nil
	default:
		return "", fmt.Errorf("unknown content type %q", s)
	}
}

// ParseFilterType is ParseContentType plus the "all" wildcard.
func ParseFilterType(s string) (ContentType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" || ContentType(trimmed) == ContentTypeAll {
		return ContentTypeAll, nil
	}
	return ParseContentType(trimmed)
}

// Record is one extracted item. Records are values: a reload replaces them,
// nothing edits one in place.
type Record struct {
	ID                   string      `json:"id,omitempty"`
	Title                string      `json:"title"`
	PriceOrDate          string      `json:"price"`
	AvailabilityOrRating string      `json:"availability"`
	Category             string      `json:"category"`
	SourceURL            string      `json:"source"`
	Timestamp            time.Time   `json:"timestamp"`
	ContentType          ContentType `json:"contentType"`
}

// legacyTimestamp is the zone-less ISO layout older backends emitted.
const legacyTimestamp = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON accepts RFC3339 timestamps and zone-less ISO timestamps,
// the latter read as UTC.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var raw struct {
		alias
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw.alias)
	if raw.Timestamp == "" {
		r.Timestamp = time.Time{}
		return nil
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

// ParseTimestamp parses the timestamp forms found on the wire.
func ParseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(legacyTimestamp, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

// IdentityKey concatenates title, source and timestamp. Two distinct records
// that agree on all three collide.
func (r Record) IdentityKey() string {
	return r.Title + r.SourceURL + r.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Key is the identifier used to reconcile deletions: the service-assigned ID
// when there is one, the identity key otherwise.
func (r Record) Key() string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return "key:" + r.IdentityKey()
}

// ScrapeResult summarises one extraction run on the service.
type ScrapeResult struct {
	Records      []Record
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RequestCount int
	PageCount    int
}
