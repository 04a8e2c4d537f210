package main

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/scrapedesk/dashboard"
	"github.com/aluiziolira/scrapedesk/export"
	"github.com/aluiziolira/scrapedesk/models"
)

type viewFlags struct {
	contentType string
	search      string
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.contentType, "type", "t", "all", "Content type filter: all, books, movies, tvshows")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "Case-insensitive title search")
}

// load fetches the records and applies the filter flags.
func (f *viewFlags) load(cmd *cobra.Command, d *dashboard.Dashboard) (dashboard.Snapshot, error) {
	ct, err := models.ParseFilterType(f.contentType)
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	if err := d.Reload(cmd.Context()); err != nil {
		return dashboard.Snapshot{}, errors.New(d.Message())
	}
	d.SetFilter(ct, f.search)
	return d.Snapshot(), nil
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var category string
	var contentType string

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a page for extraction and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := models.ParseContentType(contentType)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			var last string
			terminal := make(chan struct{})
			var terminalOnce sync.Once

			d, err := ctx.newDashboard(dashboard.WithOnChange(func(s dashboard.Snapshot) {
				if s.Progress.Status == models.StatusIdle {
					return
				}
				line := formatProgress(s.Progress)
				mu.Lock()
				if line != last {
					fmt.Fprintln(out, line)
					last = line
				}
				mu.Unlock()
				if s.Progress.Status.Terminal() {
					terminalOnce.Do(func() { close(terminal) })
				}
			}))
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Submit(cmd.Context(), args[0], category, ct); err != nil {
				return errors.New(d.Message())
			}

			select {
			case <-terminal:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			state := d.Snapshot().Progress
			if state.Status == models.StatusError {
				return errors.New(state.Message)
			}
			message := state.Message
			if message == "" {
				message = "Scraping completed"
			}
			mu.Lock()
			fmt.Fprintln(out, message)
			mu.Unlock()
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Category stored on every record (default General)")
	cmd.Flags().StringVarP(&contentType, "type", "t", string(models.ContentTypeBooks), "Content type: books, movies, tvshows")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var flags viewFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extracted records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.newDashboard()
			if err != nil {
				return err
			}
			defer d.Close()

			snap, err := flags.load(cmd, d)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snap.View) == 0 {
				fmt.Fprintln(out, "No records found")
				return nil
			}
			fmt.Fprintln(out, renderRecords(snap.View, snap.Selected, ctx.hosts))
			fmt.Fprintf(out, "Showing %d of %d records\n\n", len(snap.View), snap.Total)
			fmt.Fprintln(out, renderSites(snap.Sites))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags viewFlags
	var format string
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the filtered records to CSV and/or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.ExportDir = dir
			}

			d, err := ctx.newDashboard()
			if err != nil {
				return err
			}
			defer d.Close()

			if _, err := flags.load(cmd, d); err != nil {
				return err
			}
			paths, err := d.Export(f)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Message(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, d.Message())
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatCSV), "Export format: csv, json, both")
	cmd.Flags().StringVar(&dir, "dir", "", "Output directory (default from config)")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var flags viewFlags
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [row...]",
		Short: "Delete records by their row number in the filtered list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("specify row numbers or --all")
			}

			d, err := ctx.newDashboard()
			if err != nil {
				return err
			}
			defer d.Close()

			snap, err := flags.load(cmd, d)
			if err != nil {
				return err
			}

			if all {
				d.ToggleAll()
			} else {
				seen := make(map[int]bool, len(args))
				for _, arg := range args {
					row, err := strconv.Atoi(arg)
					if err != nil || row < 1 || row > len(snap.View) {
						return fmt.Errorf("invalid row %q: want 1-%d", arg, len(snap.View))
					}
					if seen[row] {
						continue
					}
					seen[row] = true
					d.Toggle(row - 1)
				}
			}

			if _, err := d.DeleteSelected(cmd.Context()); err != nil {
				return errors.New(d.Message())
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.Message())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Delete every record in the filtered list")
	return cmd
}
