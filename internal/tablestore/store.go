// Package tablestore is the backing row store: named tables with a header row and
// string cells, the model a spreadsheet offers. Nothing above this package depends on
// which backend holds the rows.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Table names used by the dispatch core.
const (
	Orders  = "ORDERS"
	Routes  = "ROUTES"
	Drivers = "DRIVERS"
)

// ErrUnknownColumn is returned by UpdateCell when the column is not in the header.
var ErrUnknownColumn = errors.New("unknown column")

// Sheet is a raw table snapshot: the header as stored and every data row in order.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// RowRef addresses one data row. Index is zero-based and excludes the header.
type RowRef struct {
	Table string
	Index int
}

// Store is the contract the core needs from the persistent table store.
// Reads and overwrites from different sessions are not serialized: last writer wins.
type Store interface {
	// ReadAll returns the header and rows of table; a missing table reads as empty.
	ReadAll(ctx context.Context, table string) (*Sheet, error)
	// OverwriteAll replaces the whole table with header and rows.
	OverwriteAll(ctx context.Context, table string, header []string, rows [][]string) error
	// AppendRow adds one row after the last data row.
	AppendRow(ctx context.Context, table string, row []string) error
	// FindRow returns the first row whose first cell equals key, or nil.
	FindRow(ctx context.Context, table, key string) (*RowRef, error)
	// UpdateCell sets one cell addressed by row and (normalized) column name.
	UpdateCell(ctx context.Context, ref RowRef, column, value string) error
	// EnsureTable creates table with header when it does not exist yet.
	EnsureTable(ctx context.Context, table string, header []string) error
}

// NormalizeKey folds a column title to its canonical key: trimmed, lower-case,
// spaces and dashes as underscores.
func NormalizeKey(h string) string {
	k := strings.ToLower(strings.TrimSpace(h))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	for strings.Contains(k, "__") {
		k = strings.ReplaceAll(k, "__", "_")
	}
	return k
}

// NormalizeHeader returns unique canonical keys for header. Empty titles become
// "unknown"; repeats get "_1", "_2" suffixes so no column is silently lost.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		k := NormalizeKey(h)
		if k == "" {
			k = "unknown"
		}
		if n, dup := seen[k]; dup {
			seen[k] = n + 1
			out[i] = fmt.Sprintf("%s_%d", k, n+1)
			continue
		}
		seen[k] = 0
		out[i] = k
	}
	return out
}

// FitRow pads row with empty cells or truncates it to width.
func FitRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

// Records maps every row onto the normalized header. Malformed rows are padded
// or truncated instead of failing the read.
func (s *Sheet) Records() []map[string]string {
	if s == nil || len(s.Header) == 0 {
		return nil
	}
	keys := NormalizeHeader(s.Header)
	out := make([]map[string]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		row = FitRow(row, len(keys))
		rec := make(map[string]string, len(keys))
		for i, k := range keys {
			rec[k] = strings.TrimSpace(row[i])
		}
		out = append(out, rec)
	}
	return out
}

// ColumnIndex finds column in header after normalizing both sides.
func ColumnIndex(header []string, column string) (int, bool) {
	want := NormalizeKey(column)
	for i, k := range NormalizeHeader(header) {
		if k == want {
			return i, true
		}
	}
	return -1, false
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
