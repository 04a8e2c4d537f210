package export

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aluiziolira/scrapedesk/models"
)

// Writer is an export destination.
type Writer interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
	Paths() []string
}

// CSVWriter writes records to a CSV file.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	loc    *time.Location
	mu     sync.Mutex
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string, loc *time.Location) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	if err := WriteCSVHeader(buffer); err != nil {
		f.Close()
		return nil, err
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: buffer,
		loc:    loc,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := WriteCSVRows(cw.writer, records, cw.loc); err != nil {
		return err
	}
	if err := cw.writer.Flush(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Flush(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file was written.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.path, "csv")
}

// Paths returns the written file.
func (cw *CSVWriter) Paths() []string {
	return []string{cw.path}
}

// JSONWriter collects records and writes them as one indented array on
// Close.
type JSONWriter struct {
	path    string
	file    *os.File
	records []models.Record
	mu      sync.Mutex
}

// NewJSONWriter creates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	return &JSONWriter{path: filename, file: f, records: []models.Record{}}, nil
}

// Write buffers records for the final array.
func (jw *JSONWriter) Write(records []models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.records = append(jw.records, records...)
	return nil
}

// Close writes the array and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	buffer := bufio.NewWriter(jw.file)
	if err := WriteJSON(buffer, jw.records); err != nil {
		jw.file.Close()
		return err
	}
	if err := buffer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the file was written.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.path, "json")
}

// Paths returns the written file.
func (jw *JSONWriter) Paths() []string {
	return []string{jw.path}
}

// fanout sends every call to each of its writers in order.
type fanout []Writer

// newFanout opens one writer per open function. Writers already opened are
// closed if a later one fails.
func newFanout(opens ...func() (Writer, error)) (Writer, error) {
	f := make(fanout, 0, len(opens))
	for _, open := range opens {
		w, err := open()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f = append(f, w)
	}
	return f, nil
}

func (f fanout) Write(records []models.Record) error {
	for _, w := range f {
		if err := w.Write(records); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer, even after a failure.
func (f fanout) Close() error {
	var errs []error
	for _, w := range f {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

func (f fanout) Validate() error {
	var errs []error
	for _, w := range f {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

func (f fanout) Paths() []string {
	var paths []string
	for _, w := range f {
		paths = append(paths, w.Paths()...)
	}
	return paths
}

func validateFile(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
