// Package dashboard ties the record store, the job controller and the
// exporter into the single state owner the user interface drives.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/export"
	"github.com/aluiziolira/scrapedesk/jobs"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/records"
)

const (
	loadFailedMessage   = "Failed to load data"
	deleteFailedMessage = "Failed to delete items"
	exportFailedMessage = "Failed to export data"
	completedMessage    = "Scraping completed"
)

// Service is the extraction service as the dashboard uses it.
type Service interface {
	records.Loader
	records.Deleter
	jobs.Submitter
}

// Snapshot is a consistent copy of everything the interface renders.
type Snapshot struct {
	Form        jobs.Form
	Progress    models.ProgressState
	Filter      records.FilterPredicate
	View        []models.Record
	Total       int
	Selected    []int
	AllSelected bool
	Sites       []records.SiteCount
	Message     string
}

// Option customises a Dashboard.
type Option func(*Dashboard)

// WithOnChange registers fn to receive a snapshot after every change,
// including progress updates from the stream goroutine.
func WithOnChange(fn func(Snapshot)) Option {
	return func(d *Dashboard) {
		d.onChange = fn
	}
}

// WithHostResolver replaces the store's hostname resolver.
func WithHostResolver(h *records.HostResolver) Option {
	return func(d *Dashboard) {
		d.hosts = h
	}
}

// Dashboard serialises every mutation of the record state. Operations that
// touch the store run one at a time under ops, including the reload that a
// completed job triggers from the progress goroutine.
type Dashboard struct {
	store      *records.Store
	reconciler *records.Reconciler
	controller *jobs.Controller
	exporter   *export.Engine
	hosts      *records.HostResolver
	onChange   func(Snapshot)
	logger     *slog.Logger

	ops sync.Mutex

	mu      sync.Mutex
	message string
}

// New wires a dashboard against svc, following job progress through
// streams and writing exports with exporter.
func New(svc Service, streams jobs.StreamOpener, exporter *export.Engine, logger *slog.Logger, opts ...Option) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{exporter: exporter, logger: logger}
	for _, opt := range opts {
		opt(d)
	}

	d.store = records.NewStore(svc, d.hosts, logger)
	d.reconciler = records.NewReconciler(d.store, svc, logger)
	d.controller = jobs.NewController(svc, streams, jobs.Callbacks{
		OnProgress:  d.onProgress,
		OnCompleted: d.onCompleted,
	}, logger)
	return d
}

// Submit starts an extraction job.
func (d *Dashboard) Submit(ctx context.Context, url, category string, contentType models.ContentType) error {
	resp, err := d.controller.Submit(ctx, url, category, contentType)
	if err != nil {
		d.setMessage(client.UserMessage(err, "Failed to start scraping"))
		d.notify()
		return err
	}
	if resp.Message != "" && !d.controller.Progress().Status.Terminal() {
		d.setMessage(resp.Message)
		d.notify()
	}
	return nil
}

// Reload replaces the records with the service's current list.
func (d *Dashboard) Reload(ctx context.Context) error {
	d.ops.Lock()
	err := d.store.Load(ctx)
	d.ops.Unlock()

	if err != nil {
		d.setMessage(client.UserMessage(err, loadFailedMessage))
	}
	d.notify()
	return err
}

// SetFilter changes the content-type filter and search text.
func (d *Dashboard) SetFilter(contentType models.ContentType, search string) {
	d.ops.Lock()
	d.store.SetFilter(records.FilterPredicate{ContentType: contentType, SearchText: search})
	d.ops.Unlock()
	d.notify()
}

// Toggle flips the selection of view row pos.
func (d *Dashboard) Toggle(pos int) {
	d.ops.Lock()
	d.store.Toggle(pos)
	d.ops.Unlock()
	d.notify()
}

// ToggleAll selects every view row, or clears the selection when all are
// selected.
func (d *Dashboard) ToggleAll() {
	d.ops.Lock()
	d.store.ToggleAll()
	d.ops.Unlock()
	d.notify()
}

// DeleteSelected removes the selected rows on the service and locally.
func (d *Dashboard) DeleteSelected(ctx context.Context) (int, error) {
	d.ops.Lock()
	removed, err := d.reconciler.DeleteSelected(ctx)
	d.ops.Unlock()

	if err != nil {
		d.setMessage(client.UserMessage(err, deleteFailedMessage))
	} else {
		d.setMessage(fmt.Sprintf("Successfully deleted %d items", removed))
	}
	d.notify()
	return removed, err
}

// Export writes the current view in format and returns the file paths.
func (d *Dashboard) Export(format export.Format) ([]string, error) {
	d.ops.Lock()
	view := d.store.View()
	filter := d.store.Filter()
	d.ops.Unlock()

	paths, err := d.exporter.Export(view, filter.ContentType, format)
	if err != nil {
		d.logger.Error("export view", slog.String("format", string(format)), slog.Any("error", err))
		d.setMessage(exportFailedMessage)
		d.notify()
		return nil, err
	}
	d.setMessage(fmt.Sprintf("Exported %d records", len(view)))
	d.notify()
	return paths, nil
}

// Snapshot returns the current state.
func (d *Dashboard) Snapshot() Snapshot {
	d.ops.Lock()
	snap := Snapshot{
		Filter:      d.store.Filter(),
		View:        d.store.View(),
		Total:       len(d.store.Records()),
		Selected:    d.store.Selected(),
		AllSelected: d.store.AllSelected(),
		Sites:       d.store.Summary().Sorted(),
	}
	d.ops.Unlock()

	snap.Form = d.controller.Form()
	snap.Progress = d.controller.Progress()
	snap.Message = d.Message()
	return snap
}

// Message returns the last user-visible message.
func (d *Dashboard) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// Close closes the progress stream. In-flight requests still complete.
func (d *Dashboard) Close() {
	d.controller.Close()
}

func (d *Dashboard) onProgress(state models.ProgressState) {
	if state.Status == models.StatusError && state.Message != "" {
		d.setMessage(state.Message)
	}
	d.notify()
}

func (d *Dashboard) onCompleted(state models.ProgressState) {
	message := state.Message
	if message == "" {
		message = completedMessage
	}
	d.setMessage(message)

	if err := d.Reload(context.Background()); err != nil {
		d.logger.Error("reload after job", slog.Any("error", err))
	}
}

func (d *Dashboard) setMessage(message string) {
	d.mu.Lock()
	d.message = message
	d.mu.Unlock()
}

func (d *Dashboard) notify() {
	if d.onChange != nil {
		d.onChange(d.Snapshot())
	}
}
