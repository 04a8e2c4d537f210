package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/records"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const maxTitleWidth = 48

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderRecords lists view with 1-based row numbers, marking selected rows.
func renderRecords(view []models.Record, selected []int, hosts *records.HostResolver) string {
	marked := make(map[int]bool, len(selected))
	for _, pos := range selected {
		marked[pos] = true
	}

	rows := make([][]string, 0, len(view))
	for i, rec := range view {
		mark := ""
		if marked[i] {
			mark = "*"
		}
		rows = append(rows, []string{
			mark + strconv.Itoa(i+1),
			text.Trim(rec.Title, maxTitleWidth),
			rec.PriceOrDate,
			rec.AvailabilityOrRating,
			rec.Category,
			string(rec.ContentType),
			hosts.Host(rec.SourceURL),
			rec.Timestamp.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(
		[]string{"#", "Title", "Price/Date", "Availability/Rating", "Category", "Type", "Site", "Scraped"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func renderSites(sites []records.SiteCount) string {
	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		rows = append(rows, []string{s.Host, strconv.Itoa(s.Count)})
	}
	return renderTable([]string{"Site", "Records"}, rows, []columnAlignment{alignLeft, alignRight})
}

func formatProgress(state models.ProgressState) string {
	line := fmt.Sprintf("%-9s %d/%d (%.0f%%)", state.Status, state.ProcessedItems, state.TotalItems, state.ScrapingPercent)
	if state.Message != "" {
		line += "  " + state.Message
	}
	return line
}
