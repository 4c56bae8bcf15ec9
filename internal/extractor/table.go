package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Table is one extracted HTML table. Headers come from thead cells or the
// first all-th row; rows hold the remaining cell text in document order.
type Table struct {
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated,omitempty"`
}

// ParseTables extracts every table found in the HTML fragments, keeping
// at most maxRows body rows per table.
func ParseTables(fragments []string, maxRows int) ([]Table, error) {
	if maxRows <= 0 {
		maxRows = 1000
	}

	var tables []Table
	for _, frag := range fragments {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(frag))
		if err != nil {
			return nil, fmt.Errorf("extractor: parse table html: %w", err)
		}
		doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
			if t := parseTable(sel, maxRows); len(t.Headers) > 0 || len(t.Rows) > 0 {
				tables = append(tables, t)
			}
		})
	}
	return tables, nil
}

func parseTable(sel *goquery.Selection, maxRows int) Table {
	var t Table

	sel.Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := rowCells(row)
		if len(cells) == 0 {
			return true
		}
		// The first row counts as the header when it is th-only or sits
		// inside thead.
		if t.Headers == nil && len(t.Rows) == 0 && isHeaderRow(row) {
			t.Headers = cells
			return true
		}
		if len(t.Rows) >= maxRows {
			t.Truncated = true
			return false
		}
		t.Rows = append(t.Rows, cells)
		return true
	})
	return t
}

func rowCells(row *goquery.Selection) []string {
	var cells []string
	row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
	})
	return cells
}

func isHeaderRow(row *goquery.Selection) bool {
	if row.ParentsFiltered("thead").Length() > 0 {
		return true
	}
	return row.Find("td").Length() == 0 && row.Find("th").Length() > 0
}
