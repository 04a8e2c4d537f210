// Package export serialises a derived view to CSV or JSON files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aluiziolira/scrapedesk/models"
)

// Header is the fixed first row of every CSV export.
var Header = []string{
	"Title",
	"Price/Release Date",
	"Availability/Rating",
	"Category",
	"Source",
	"Timestamp",
	"Content Type",
}

// TimestampLayout renders timestamps the way a viewer reads them.
const TimestampLayout = "1/2/2006, 3:04:05 PM"

// quote wraps v in double quotes, doubling any inner quote.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func csvRow(r models.Record, loc *time.Location) string {
	fields := []string{
		r.Title,
		r.PriceOrDate,
		r.AvailabilityOrRating,
		r.Category,
		r.SourceURL,
		r.Timestamp.In(loc).Format(TimestampLayout),
		string(r.ContentType),
	}
	for i, f := range fields {
		fields[i] = quote(f)
	}
	return strings.Join(fields, ",")
}

// WriteCSVHeader writes the header row.
func WriteCSVHeader(w io.Writer) error {
	if _, err := io.WriteString(w, strings.Join(Header, ",")+"\n"); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

// WriteCSVRows writes one quoted row per record, timestamps in loc.
func WriteCSVRows(w io.Writer, records []models.Record, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	for _, r := range records {
		if _, err := io.WriteString(w, csvRow(r, loc)+"\n"); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	return nil
}

// WriteCSV writes the header and every record.
func WriteCSV(w io.Writer, records []models.Record, loc *time.Location) error {
	if err := WriteCSVHeader(w); err != nil {
		return err
	}
	return WriteCSVRows(w, records, loc)
}

// WriteJSON writes records as an indented JSON array in field order.
func WriteJSON(w io.Writer, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	if _, err := w.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("write json export: %w", err)
	}
	return nil
}

// ReadJSON parses a JSON export back into records.
func ReadJSON(r io.Reader) ([]models.Record, error) {
	var records []models.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json export: %w", err)
	}
	return records, nil
}

// FileName returns scraped-data-<UTC date>[_<filter>].<ext>. The filter suffix
// is left out for the "all" filter.
func FileName(now time.Time, filter models.ContentType, ext string) string {
	name := "scraped-data-" + now.UTC().Format("2006-01-02")
	if filter != "" && filter != models.ContentTypeAll {
		name += "_" + string(filter)
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}
