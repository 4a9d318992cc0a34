// Package importer turns an uploaded sheet into per-row import decisions.
//
// A Table is read from CSV or XLSX, its header is mapped onto contact fields,
// and the Reconciler decides for every data row whether it is accepted or
// skipped, checking rows against each other and against the directory.
package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for uploads that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported import file type")

const utf8BOM = "\ufeff"

// Table is a header row plus data records, as read from an upload.
type Table struct {
	Header  []string
	Records [][]string
	// Lines holds the 1-based source line (CSV) or sheet row (XLSX) of each
	// record. CSV readers drop blank lines, so after one a record's line is
	// no longer its index plus two. Nil means one line per record.
	Lines []int
}

// Len returns the number of data records.
func (t *Table) Len() int {
	return len(t.Records)
}

// Line returns where record i came from in the source file.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 2
}

// ReadFile picks a reader by file extension.
func ReadFile(name string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// ReadCSV reads comma-separated text whose first record is the header.
// Records may have fewer or more fields than the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Reason: "file is empty"}
	}
	if err != nil {
		return nil, &FormatError{Reason: "unreadable header row", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	t := &Table{Header: header}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("unreadable record after row %d", len(t.Records)), Err: err}
		}
		line, _ := reader.FieldPos(0)
		t.Records = append(t.Records, rec)
		t.Lines = append(t.Lines, line)
	}
	return t, nil
}

// ReadXLSX reads the first worksheet of a workbook. Row 1 is the header.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &FormatError{Reason: "unreadable workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &FormatError{Reason: "unreadable worksheet", Err: err}
	}
	if len(rows) == 0 {
		return nil, &FormatError{Reason: "file is empty"}
	}
	t := &Table{Header: rows[0], Records: rows[1:]}
	t.Lines = make([]int, len(t.Records))
	for i := range t.Lines {
		t.Lines[i] = i + 2
	}
	return t, nil
}
