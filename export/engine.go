package export

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/scrapedesk/models"
)

// Format selects the export codec.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatBoth Format = "both"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatBoth:
		return f, nil
	default:
		return "", fmt.Errorf("format must be csv, json, or both")
	}
}

// Engine writes views into a directory.
type Engine struct {
	dir    string
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine exports into dir, rendering CSV timestamps in loc (time.Local
// when nil).
func NewEngine(dir string, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dir: dir, loc: loc, now: time.Now, logger: logger}
}

// Export writes view in format and returns the created paths. filter only
// shapes the file name.
func (e *Engine) Export(view []models.Record, filter models.ContentType, format Format) ([]string, error) {
	writer, err := e.createWriter(format, filter)
	if err != nil {
		return nil, err
	}

	if err := writer.Write(view); err != nil {
		writer.Close()
		return nil, fmt.Errorf("export %s: %w", format, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("export %s: %w", format, err)
	}
	if err := writer.Validate(); err != nil {
		return nil, fmt.Errorf("export %s: %w", format, err)
	}

	paths := writer.Paths()
	e.logger.Info("view exported",
		slog.String("format", string(format)),
		slog.Int("records", len(view)),
		slog.Any("paths", paths),
	)
	return paths, nil
}

func (e *Engine) createWriter(format Format, filter models.ContentType) (Writer, error) {
	now := e.now()
	csvPath := filepath.Join(e.dir, FileName(now, filter, "csv"))
	jsonPath := filepath.Join(e.dir, FileName(now, filter, "json"))

	switch format {
	case FormatCSV:
		return NewCSVWriter(csvPath, e.loc)
	case FormatJSON:
		return NewJSONWriter(jsonPath)
	case FormatBoth:
		return newFanout(
			func() (Writer, error) { return NewCSVWriter(csvPath, e.loc) },
			func() (Writer, error) { return NewJSONWriter(jsonPath) },
		)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
