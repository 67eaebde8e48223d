package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ignite/catalog-enricher/internal/sheet"
)

const resultSheet = "Sheet1"

// enrich copies the uploaded sheet into a workbook and appends one
// placeholder column per model. It returns the workbook bytes, its file name
// and the number of data rows.
func enrich(reader sheet.Reader, data []byte, filename string, modelIDs []string) ([]byte, string, int, error) {
	rows, err := reader.Rows(data, filename)
	if err != nil {
		return nil, "", 0, err
	}
	header, rest := splitHeader(rows)
	if header == nil {
		return nil, "", 0, fmt.Errorf("%w: no header row", sheet.ErrInvalidFile)
	}

	f := excelize.NewFile()
	defer f.Close()

	out := make([]interface{}, 0, len(header)+len(modelIDs))
	for _, h := range header {
		out = append(out, h)
	}
	for _, id := range modelIDs {
		out = append(out, "predicted_"+id)
	}
	if err := f.SetSheetRow(resultSheet, "A1", &out); err != nil {
		return nil, "", 0, err
	}

	for i, row := range rest {
		out = out[:0]
		for j := range header {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			out = append(out, v)
		}
		for _, id := range modelIDs {
			out = append(out, fmt.Sprintf("%s prediction for row %d", id, i+1))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", 0, err
		}
		if err := f.SetSheetRow(resultSheet, cell, &out); err != nil {
			return nil, "", 0, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", 0, err
	}
	return buf.Bytes(), resultName(filename), len(rest), nil
}

// splitHeader skips leading blank rows.
func splitHeader(rows [][]string) ([]string, [][]string) {
	for i, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			return row, rows[i+1:]
		}
	}
	return nil, nil
}

func resultName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "catalog"
	}
	return base + "_enriched.xlsx"
}
