package destination

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/imperiopatitas/bsale_etl/models"
)

// Operation describes one write the memory destination is about to apply.
type Operation struct {
	Kind  StatementKind
	Table string
	Rows  int
	Keys  []any
	InTx  bool
}

// Memory keeps tables in process. It executes statements from their
// structured fields and ignores the SQL text.
type Memory struct {
	mu      sync.Mutex
	tables  map[string]map[string]Row
	dialect Dialect
	log     []Operation

	// Hook runs before every write and may fail it.
	Hook func(op Operation) error
}

func NewMemory() *Memory {
	return &Memory{tables: map[string]map[string]Row{}, dialect: memoryDialect{merge: true}}
}

// NewMemoryWithoutMerge emulates an engine with no upsert statement.
func NewMemoryWithoutMerge() *Memory {
	m := NewMemory()
	m.dialect = memoryDialect{merge: false}
	return m
}

func (m *Memory) Name() string     { return "memory" }
func (m *Memory) Dialect() Dialect { return m.dialect }
func (m *Memory) Close() error     { return nil }

func (m *Memory) Classify(err error) ErrorClass {
	class, _ := classifyCommon(err)
	return class
}

func (m *Memory) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return m.apply(Statement{Kind: StatementInsert, Table: table, Rows: rows}, false)
}

func (m *Memory) ExecuteStatement(ctx context.Context, stmt Statement) error {
	return m.apply(stmt, false)
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{m: m}, nil
}

func (m *Memory) ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error) {
	if !table.HasColumn(column) {
		return nil, fmt.Errorf("destination: %s has no column %q", table.Name, column)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := models.NewKeySet()
	for _, r := range m.tables[table.Name] {
		if id, ok := toInt64(r[column]); ok {
			keys.Add(id)
		}
	}
	return keys, nil
}

// Rows returns a copy of the table ordered by primary key.
func (m *Memory) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	ids := slices.Collect(maps.Keys(t))
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, maps.Clone(t[id]))
	}
	return out
}

func (m *Memory) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Operations returns every applied write in order.
func (m *Memory) Operations() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.log)
}

func (m *Memory) check(stmt Statement, inTx bool) error {
	if m.Hook == nil {
		return nil
	}
	return m.Hook(Operation{Kind: stmt.Kind, Table: stmt.Table.Name, Rows: len(stmt.Rows), Keys: stmt.Keys, InTx: inTx})
}

func (m *Memory) apply(stmt Statement, inTx bool) error {
	if err := m.check(stmt, inTx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(m.tables, stmt, inTx)
}

func keyString(v any) string {
	return fmt.Sprint(v)
}

func (m *Memory) applyLocked(tables map[string]map[string]Row, stmt Statement, inTx bool) error {
	name := stmt.Table.Name
	t := tables[name]
	if t == nil {
		t = map[string]Row{}
		tables[name] = t
	}
	pk := stmt.Key
	if pk == "" {
		pk = stmt.Table.PrimaryKey
	}

	switch stmt.Kind {
	case StatementMerge:
		for _, r := range stmt.Rows {
			t[keyString(r[pk])] = maps.Clone(r)
		}
	case StatementInsert:
		for _, r := range stmt.Rows {
			k := keyString(r[pk])
			if _, dup := t[k]; dup {
				return fmt.Errorf("memory: duplicate key %s in %s", k, name)
			}
			t[k] = maps.Clone(r)
		}
	case StatementDelete:
		for _, k := range stmt.Keys {
			delete(t, keyString(k))
		}
	case StatementDeleteAll:
		clear(t)
	default:
		return fmt.Errorf("memory: unknown statement kind %s", stmt.Kind)
	}
	m.log = append(m.log, Operation{Kind: stmt.Kind, Table: name, Rows: len(stmt.Rows), Keys: stmt.Keys, InTx: inTx})
	return nil
}

// memoryTx stages statements and applies them atomically on Commit.
type memoryTx struct {
	m       *Memory
	pending []Statement
	done    bool
}

func (t *memoryTx) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return t.ExecuteStatement(ctx, Statement{Kind: StatementInsert, Table: table, Rows: rows})
}

func (t *memoryTx) ExecuteStatement(ctx context.Context, stmt Statement) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	if err := t.m.check(stmt, true); err != nil {
		return err
	}
	t.pending = append(t.pending, stmt)
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.done = true
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	staged := make(map[string]map[string]Row, len(t.m.tables))
	for name, rows := range t.m.tables {
		staged[name] = maps.Clone(rows)
	}
	logLen := len(t.m.log)
	for _, stmt := range t.pending {
		if err := t.m.applyLocked(staged, stmt, true); err != nil {
			t.m.log = t.m.log[:logLen]
			return err
		}
	}
	t.m.tables = staged
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	t.pending = nil
	return nil
}

type memoryDialect struct {
	merge bool
}

func (d memoryDialect) Name() string { return "memory" }

func (d memoryDialect) Merge(table models.Table, key string, rows []Row) (Statement, error) {
	if !d.merge {
		return Statement{}, ErrMergeUnsupported
	}
	if err := checkBatch(table, key, rows); err != nil {
		return Statement{}, err
	}
	return Statement{Kind: StatementMerge, Table: table, Key: key, Rows: rows, Keys: KeysOf(rows, key)}, nil
}

func (d memoryDialect) Insert(table models.Table, rows []Row) (Statement, error) {
	if err := checkBatch(table, "", rows); err != nil {
		return Statement{}, err
	}
	return Statement{Kind: StatementInsert, Table: table, Rows: rows}, nil
}

func (d memoryDialect) Delete(table models.Table, key string, keys []any) (Statement, error) {
	if !table.HasColumn(key) {
		return Statement{}, fmt.Errorf("destination: %s has no column %q", table.Name, key)
	}
	return Statement{Kind: StatementDelete, Table: table, Key: key, Keys: keys}, nil
}

func (d memoryDialect) DeleteAll(table models.Table) (Statement, error) {
	return Statement{Kind: StatementDeleteAll, Table: table}, nil
}
