package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUnmarshalTimestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "rfc3339", raw: "2025-11-04T13:09:13Z", want: time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)},
		{name: "legacy iso", raw: "2025-11-04T13:09:13.250000", want: time.Date(2025, 11, 4, 13, 9, 13, 250000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Record
			body := `{"title":"A","price":"1.00","source":"http://x","timestamp":"` + tt.raw + `","contentType":"books"}`
			require.NoError(t, json.Unmarshal([]byte(body), &r))
			assert.True(t, r.Timestamp.Equal(tt.want), "timestamp = %v, want %v", r.Timestamp, tt.want)
			assert.Equal(t, "A", r.Title)
			assert.Equal(t, "1.00", r.PriceOrDate)
			assert.Equal(t, ContentTypeBooks, r.ContentType)
		})
	}
}

func TestRecordUnmarshalBadTimestamp(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"title":"A","timestamp":"yesterday"}`), &r)
	require.Error(t, err)
}

func TestRecordKey(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Record{Title: "A", SourceURL: "http://s", Timestamp: ts}
	b := a
	b.ID = "123"

	assert.Equal(t, "Ahttp://s2025-01-02T03:04:05Z", a.IdentityKey())
	assert.Equal(t, "key:"+a.IdentityKey(), a.Key())
	assert.Equal(t, "id:123", b.Key())
}

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType(" Movies ")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeMovies, ct)

	ct, err = ParseContentType("")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeBooks, ct)

	_, err = ParseContentType("all")
	assert.Error(t, err)

	ct, err = ParseFilterType("ALL")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeAll, ct)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(5, 0))
	assert.Equal(t, 50.0, Percent(5, 10))
	assert.Equal(t, 100.0, Percent(10, 10))
	assert.Equal(t, float64(1)/float64(3)*100, Percent(1, 3))
}

func TestStatusRank(t *testing.T) {
	assert.Less(t, StatusIdle.Rank(), StatusStarting.Rank())
	assert.Less(t, StatusStarting.Rank(), StatusRunning.Rank())
	assert.Equal(t, StatusCompleted.Rank(), StatusError.Rank())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, Status("paused").Valid())
}
