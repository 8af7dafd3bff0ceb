package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps every table in the SQLite schema created by internal/db:
// one row in sheets per table, one row in sheet_rows per data row with the
// cells JSON-encoded and the first cell copied into row_key for FindRow.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps a database opened with db.Open.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) ReadAll(ctx context.Context, table string) (*Sheet, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var headerJSON string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM sheets WHERE name = ?`, table).Scan(&headerJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return &Sheet{}, nil
	}
	if err != nil {
		return nil, err
	}
	sheet := &Sheet{}
	if err := json.Unmarshal([]byte(headerJSON), &sheet.Header); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", table, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT position, cells FROM sheet_rows WHERE sheet = ? ORDER BY position ASC`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pos int
		var cellsJSON string
		if err := rows.Scan(&pos, &cellsJSON); err != nil {
			return nil, err
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return nil, fmt.Errorf("decode row %d of %s: %w", pos, table, err)
		}
		sheet.Rows = append(sheet.Rows, cells)
	}
	return sheet, rows.Err()
}

func (s *SQLStore) OverwriteAll(ctx context.Context, table string, header []string, rows [][]string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSheet(ctx, tx, table, string(headerJSON)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_rows WHERE sheet = ?`, table); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sheet_rows (sheet, position, row_key, cells) VALUES (?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, r := range rows {
		cells, err := json.Marshal(r)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, table, i, rowKey(r), string(cells)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) AppendRow(ctx context.Context, table string, row []string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	cells, err := json.Marshal(row)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sheets (name) VALUES (?)`, table); err != nil {
		_ = tx.Rollback()
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO sheet_rows (sheet, position, row_key, cells)
SELECT ?, COALESCE(MAX(position), -1) + 1, ?, ? FROM sheet_rows WHERE sheet = ?`,
		table, rowKey(row), string(cells), table)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) FindRow(ctx context.Context, table, key string) (*RowRef, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var pos int
	err := s.db.QueryRowContext(ctx, `SELECT position FROM sheet_rows WHERE sheet = ? AND row_key = ? ORDER BY position ASC LIMIT 1`, table, key).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &RowRef{Table: table, Index: pos}, nil
}

func (s *SQLStore) UpdateCell(ctx context.Context, ref RowRef, column, value string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var headerJSON, cellsJSON string
	err = tx.QueryRowContext(ctx, `
SELECT s.header, r.cells FROM sheet_rows r JOIN sheets s ON s.name = r.sheet
WHERE r.sheet = ? AND r.position = ?`, ref.Table, ref.Index).Scan(&headerJSON, &cellsJSON)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("row %d of %s out of range", ref.Index, ref.Table)
		}
		return err
	}
	var header, cells []string
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
		_ = tx.Rollback()
		return err
	}
	col, ok := ColumnIndex(header, column)
	if !ok {
		_ = tx.Rollback()
		return fmt.Errorf("%w %q in %s", ErrUnknownColumn, column, ref.Table)
	}
	if len(cells) <= col {
		cells = FitRow(cells, len(header))
	}
	cells[col] = value
	out, err := json.Marshal(cells)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sheet_rows SET cells = ?, row_key = ? WHERE sheet = ? AND position = ?`,
		string(out), rowKey(cells), ref.Table, ref.Index); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) EnsureTable(ctx context.Context, table string, header []string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sheets (name, header) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET header = excluded.header, updated_at = CURRENT_TIMESTAMP
WHERE sheets.header = '[]'`, table, string(headerJSON))
	return err
}

func upsertSheet(ctx context.Context, tx *sql.Tx, table, headerJSON string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO sheets (name, header) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET header = excluded.header, updated_at = CURRENT_TIMESTAMP`, table, headerJSON)
	return err
}

func rowKey(row []string) string {
	if len(row) == 0 {
		return ""
	}
	return row[0]
}
