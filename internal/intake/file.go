// Package intake turns uploaded spreadsheets and free text into order inputs.
// It only parses; validation happens when the orders are created.
package intake

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/geo"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// DefaultOrderType is used when a row names none.
const DefaultOrderType = "Delivery"

// Row is one parsed input with the line it came from (1-based, header is line 1).
type Row struct {
	Line  int
	Input models.OrderInput
}

// RowError reports an input row that could not be used.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// ImportFile dispatches on the file extension: .xlsx via excelize, .csv via encoding/csv.
func ImportFile(name string, r io.Reader) ([]Row, []RowError, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ImportXLSX(r)
	case ".csv":
		return ImportCSV(r)
	default:
		return nil, nil, apperr.Invalid("file", "unsupported file type "+filepath.Ext(name)+", use .csv or .xlsx")
	}
}

// ImportXLSX reads the first sheet of a workbook.
func ImportXLSX(r io.Reader) ([]Row, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, apperr.Invalid("file", fmt.Sprintf("not a readable workbook: %v", err))
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, apperr.Invalid("file", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	out, rowErrs := fromRows(rows)
	return out, rowErrs, nil
}

// ImportCSV reads a comma separated file with a header line.
func ImportCSV(r io.Reader) ([]Row, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, apperr.Invalid("file", fmt.Sprintf("not a readable csv: %v", err))
	}
	out, rowErrs := fromRows(rows)
	return out, rowErrs, nil
}

func fromRows(rows [][]string) ([]Row, []RowError) {
	if len(rows) == 0 {
		return nil, nil
	}
	sheet := tablestore.Sheet{Header: rows[0], Rows: rows[1:]}
	var out []Row
	var rowErrs []RowError
	for i, rec := range sheet.Records() {
		line := i + 2
		if blank(rec) {
			continue
		}
		in, err := InputFromRecord(repository.CanonicalOrderRecord(rec))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err.Error()})
			continue
		}
		out = append(out, Row{Line: line, Input: in})
	}
	return out, rowErrs
}

func blank(rec map[string]string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// InputFromRecord builds an OrderInput from a canonical-keyed record.
func InputFromRecord(rec map[string]string) (models.OrderInput, error) {
	get := func(k string) string { return strings.TrimSpace(rec[k]) }
	coords, err := geo.ParseLatLng(get("lat"), get("lng"))
	if err != nil {
		return models.OrderInput{}, err
	}
	in := models.OrderInput{
		OrderType:       get("order_type"),
		CustomerName:    get("customer_name"),
		CustomerPhone:   get("customer_phone"),
		Address:         get("address"),
		City:            get("city"),
		ZipCode:         normalizeZip(get("zip_code")),
		Items:           repository.SplitItemList(get("items")),
		TimeWindowStart: get("time_window_start"),
		TimeWindowEnd:   get("time_window_end"),
		SpecialNotes:    get("special_notes"),
		Coordinates:     coords,
	}
	if in.OrderType == "" {
		in.OrderType = DefaultOrderType
	}
	return in, nil
}

// normalizeZip undoes spreadsheet number formatting ("92618.0").
func normalizeZip(z string) string {
	return strings.TrimSuffix(z, ".0")
}

func stamp(rows []Row, at time.Time) {
	for i := range rows {
		t := at
		rows[i].Input.ParsedAt = &t
	}
}
