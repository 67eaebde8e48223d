// Package sheet turns an uploaded spreadsheet into rows of cell values.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
)

// ErrInvalidFile is returned for any upload that cannot be parsed.
var ErrInvalidFile = errors.New("invalid spreadsheet file")

var (
	zipMagic = []byte("PK\x03\x04")
	// Compound File Binary header of legacy .xls/.doc files.
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Reader parses a raw upload into rows.
type Reader interface {
	Rows(data []byte, filename string) ([][]string, error)
}

// DefaultReader reads .xlsx workbooks (first sheet) and delimited text.
type DefaultReader struct{}

// NewReader returns the default spreadsheet reader.
func NewReader() *DefaultReader { return &DefaultReader{} }

func (DefaultReader) Rows(data []byte, filename string) ([][]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidFile)
	}
	if strings.EqualFold(filepath.Ext(filename), ".xls") || bytes.HasPrefix(data, oleMagic) {
		return nil, fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx or .csv", ErrInvalidFile)
	}
	if isWorkbook(data, filename) {
		return readWorkbook(data)
	}
	return readDelimited(data)
}

func isWorkbook(data []byte, filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return bytes.HasPrefix(data, zipMagic)
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalidFile, sheets[0], err)
	}
	return rows, nil
}

func readDelimited(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not a UTF-8 text file", ErrInvalidFile)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidFile)
	}
	return rows, nil
}

// sniffDelimiter picks the most frequent of , ; and tab on the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// HeaderRow returns the first row with at least one cell that is non-empty
// after normalization. When no such row exists it returns the first row, or
// nil for an empty grid.
func HeaderRow(rows [][]string) []string {
	for _, row := range rows {
		for _, cell := range row {
			if fieldmap.Normalize(cell) != "" {
				return row
			}
		}
	}
	if len(rows) > 0 {
		return rows[0]
	}
	return nil
}

// ReadHeaders parses data and returns its header row.
func ReadHeaders(r Reader, data []byte, filename string) ([]string, error) {
	rows, err := r.Rows(data, filename)
	if err != nil {
		if errors.Is(err, ErrInvalidFile) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return HeaderRow(rows), nil
}
