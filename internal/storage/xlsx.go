package storage

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/maltedev/product-research/internal/models"
)

const recordsSheet = "Sheet1"

// WriteXLSX writes records as a table: one header row with the union of
// fields, then one row per record. Null cells stay empty.
func WriteXLSX(path string, records []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(recordsSheet)
	if err != nil {
		return err
	}

	columns := models.Columns(records)
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, rec := range records {
		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = cellValue(rec[c])
		}
		cellAddr, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cellAddr, row); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func cellValue(v models.Value) interface{} {
	if n, ok := v.Num(); ok {
		return n
	}
	if s, ok := v.Str(); ok {
		return s
	}
	return nil
}
