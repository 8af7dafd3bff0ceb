package tablestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// XLSXStore keeps each table as a worksheet of one workbook file, the way the
// dispatch office already keeps its ORDERS / ROUTES / DRIVERS tabs. Every
// operation opens, edits and saves the file, so edits made by hand between
// calls are picked up.
type XLSXStore struct {
	mu   sync.Mutex
	path string
}

// NewXLSXStore returns a store over the workbook at path. The file is created on first write.
func NewXLSXStore(path string) *XLSXStore {
	return &XLSXStore{path: path}
}

func (x *XLSXStore) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	return f, err
}

// sheet returns the worksheet for table, creating it when absent.
func (x *XLSXStore) sheet(f *excelize.File, table string) error {
	idx, err := f.GetSheetIndex(table)
	if err != nil {
		return err
	}
	if idx != -1 {
		return nil
	}
	idx, err = f.NewSheet(table)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if table != defaultSheet {
		if i, _ := f.GetSheetIndex(defaultSheet); i != -1 {
			if rows, _ := f.GetRows(defaultSheet); len(rows) == 0 {
				_ = f.DeleteSheet(defaultSheet)
			}
		}
	}
	return nil
}

func (x *XLSXStore) save(f *excelize.File) error {
	if err := f.SaveAs(x.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", x.path, err)
	}
	return nil
}

func (x *XLSXStore) rows(f *excelize.File, table string) ([][]string, bool, error) {
	idx, err := f.GetSheetIndex(table)
	if err != nil {
		return nil, false, err
	}
	if idx == -1 {
		return nil, false, nil
	}
	rows, err := f.GetRows(table)
	return rows, true, err
}

func (x *XLSXStore) ReadAll(ctx context.Context, table string) (*Sheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, ok, err := x.rows(f, table)
	if err != nil || !ok || len(rows) == 0 {
		return &Sheet{}, err
	}
	return &Sheet{Header: rows[0], Rows: rows[1:]}, nil
}

func (x *XLSXStore) OverwriteAll(ctx context.Context, table string, header []string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := x.sheet(f, table); err != nil {
		return err
	}
	existing, err := f.GetRows(table)
	if err != nil {
		return err
	}
	// Remove bottom-up so row numbers stay valid.
	for r := len(existing); r >= 1; r-- {
		if err := f.RemoveRow(table, r); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(table, "A1", &header); err != nil {
		return err
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(table, cell, &rows[i]); err != nil {
			return err
		}
	}
	return x.save(f)
}

func (x *XLSXStore) AppendRow(ctx context.Context, table string, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := x.sheet(f, table); err != nil {
		return err
	}
	existing, err := f.GetRows(table)
	if err != nil {
		return err
	}
	next := len(existing) + 1
	if next == 1 {
		// Row 1 is the header; a headerless sheet gets an empty one.
		next = 2
	}
	cell, err := excelize.CoordinatesToCellName(1, next)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(table, cell, &row); err != nil {
		return err
	}
	return x.save(f)
}

func (x *XLSXStore) FindRow(ctx context.Context, table, key string) (*RowRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, ok, err := x.rows(f, table)
	if err != nil || !ok || len(rows) < 2 {
		return nil, err
	}
	for i, r := range rows[1:] {
		if len(r) > 0 && r[0] == key {
			return &RowRef{Table: table, Index: i}, nil
		}
	}
	return nil, nil
}

func (x *XLSXStore) UpdateCell(ctx context.Context, ref RowRef, column, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return err
	}
	defer f.Close()
	rows, ok, err := x.rows(f, ref.Table)
	if err != nil {
		return err
	}
	if !ok || len(rows) == 0 || ref.Index < 0 || ref.Index >= len(rows)-1 {
		return fmt.Errorf("row %d of %s out of range", ref.Index, ref.Table)
	}
	col, found := ColumnIndex(rows[0], column)
	if !found {
		return fmt.Errorf("%w %q in %s", ErrUnknownColumn, column, ref.Table)
	}
	cell, err := excelize.CoordinatesToCellName(col+1, ref.Index+2)
	if err != nil {
		return err
	}
	if err := f.SetCellStr(ref.Table, cell, value); err != nil {
		return err
	}
	return x.save(f)
}

func (x *XLSXStore) EnsureTable(ctx context.Context, table string, header []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	f, err := x.open()
	if err != nil {
		return err
	}
	defer f.Close()
	rows, ok, err := x.rows(f, table)
	if err != nil {
		return err
	}
	if ok && len(rows) > 0 && len(rows[0]) > 0 {
		return nil
	}
	if err := x.sheet(f, table); err != nil {
		return err
	}
	if err := f.SetSheetRow(table, "A1", &header); err != nil {
		return err
	}
	return x.save(f)
}
