package tablestore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tables in process memory. It backs tests and --store=memory dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string]*Sheet
	// failWrites makes every write fail; used to simulate a store outage.
	failWrites error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: make(map[string]*Sheet)}
}

// FailWrites makes subsequent writes return err; pass nil to recover.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

func (m *MemoryStore) ReadAll(_ context.Context, table string) (*Sheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sheets[table]
	if !ok {
		return &Sheet{}, nil
	}
	return &Sheet{Header: append([]string(nil), s.Header...), Rows: cloneRows(s.Rows)}, nil
}

func (m *MemoryStore) OverwriteAll(_ context.Context, table string, header []string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.sheets[table] = &Sheet{Header: append([]string(nil), header...), Rows: cloneRows(rows)}
	return nil
}

func (m *MemoryStore) AppendRow(_ context.Context, table string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	s, ok := m.sheets[table]
	if !ok {
		s = &Sheet{}
		m.sheets[table] = s
	}
	s.Rows = append(s.Rows, append([]string(nil), row...))
	return nil
}

func (m *MemoryStore) FindRow(_ context.Context, table, key string) (*RowRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sheets[table]
	if !ok {
		return nil, nil
	}
	for i, r := range s.Rows {
		if len(r) > 0 && r[0] == key {
			return &RowRef{Table: table, Index: i}, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdateCell(_ context.Context, ref RowRef, column, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	s, ok := m.sheets[ref.Table]
	if !ok || ref.Index < 0 || ref.Index >= len(s.Rows) {
		return fmt.Errorf("row %d of %s out of range", ref.Index, ref.Table)
	}
	col, ok := ColumnIndex(s.Header, column)
	if !ok {
		return fmt.Errorf("%w %q in %s", ErrUnknownColumn, column, ref.Table)
	}
	row := s.Rows[ref.Index]
	if len(row) <= col {
		row = FitRow(row, len(s.Header))
	}
	row[col] = value
	s.Rows[ref.Index] = row
	return nil
}

func (m *MemoryStore) EnsureTable(_ context.Context, table string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[table]; ok && len(s.Header) > 0 {
		return nil
	}
	if m.failWrites != nil {
		return m.failWrites
	}
	s, ok := m.sheets[table]
	if !ok {
		s = &Sheet{}
		m.sheets[table] = s
	}
	s.Header = append([]string(nil), header...)
	return nil
}
