package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/product-research/internal/models"
)

var ErrNoRows = errors.New("no rows matched")

// Column maps one record field to a cell inside a row.
type Column struct {
	Field    string  `yaml:"field" json:"field"`
	Selector string  `yaml:"selector" json:"selector"`
	Attr     string  `yaml:"attr,omitempty" json:"attr,omitempty"`
	Number   bool    `yaml:"number,omitempty" json:"number,omitempty"`
	Scale    float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// TableParser extracts one record per row matched inside the first root
// element. An empty root searches the whole document.
type TableParser struct {
	RootSelector string
	RowSelector  string
	Columns      []Column
}

func NewTableParser(rootSelector, rowSelector string, columns []Column) *TableParser {
	return &TableParser{
		RootSelector: rootSelector,
		RowSelector:  rowSelector,
		Columns:      columns,
	}
}

func (p *TableParser) ParseRows(html string) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return p.ParseDocument(doc)
}

func (p *TableParser) ParseDocument(doc *goquery.Document) ([]models.Record, error) {
	scope := doc.Selection
	if p.RootSelector != "" {
		scope = doc.Find(p.RootSelector).First()
		if scope.Length() == 0 {
			return nil, fmt.Errorf("%w: root %q not found", ErrNoRows, p.RootSelector)
		}
	}

	rows := scope.Find(p.RowSelector)
	if rows.Length() == 0 {
		return nil, ErrNoRows
	}

	records := make([]models.Record, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		// Ant Design tables render a hidden measure row first.
		if row.HasClass("ant-table-measure-row") {
			return
		}
		records = append(records, p.parseRow(row))
	})

	return records, nil
}

func (p *TableParser) parseRow(row *goquery.Selection) models.Record {
	rec := make(models.Record, len(p.Columns))

	for _, col := range p.Columns {
		cell := row
		if col.Selector != "" {
			cell = row.Find(col.Selector).First()
		}
		if cell.Length() == 0 {
			rec[col.Field] = models.Null()
			continue
		}

		var text string
		if col.Attr != "" {
			text, _ = cell.Attr(col.Attr)
		} else {
			text = cell.Text()
		}
		text = cleanText(text)

		if text == "" || text == "-" || text == "--" {
			rec[col.Field] = models.Null()
			continue
		}

		if !col.Number {
			rec[col.Field] = models.String(text)
			continue
		}

		v, ok := ParseNumber(text)
		if !ok {
			rec[col.Field] = models.Null()
			continue
		}
		if col.Scale != 0 {
			v *= col.Scale
		}
		rec[col.Field] = models.Number(v)
	}

	return rec
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
