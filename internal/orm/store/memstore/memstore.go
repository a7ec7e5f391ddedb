// Package memstore is a transactional in-memory store. It enforces keys,
// non-null columns and foreign keys from the schema registry, so it behaves
// like a relational backend for tests and the memory driver.
package memstore

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

// Store holds committed rows per entity type.
// Writers are serialised: one transaction is open at a time.
type Store struct {
	registry *schema.Registry
	writer   chan struct{}
	closed   atomic.Bool

	mu     sync.RWMutex
	tables map[string]map[string]store.Row
	seq    map[string]int64
}

var _ store.Store = (*Store)(nil)

// New creates an empty store for the registry's types
func New(registry *schema.Registry) *Store {
	return &Store{
		registry: registry,
		writer:   make(chan struct{}, 1),
		tables:   make(map[string]map[string]store.Row),
		seq:      make(map[string]int64),
	}
}

// Load inserts committed rows directly, bypassing constraint checks.
// Identity sequences continue after the highest loaded key.
func (s *Store) Load(typeName string, rows ...store.Row) error {
	et, err := s.registry.Lookup(typeName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		row := normalizeRow(et, r)
		for _, p := range et.Properties {
			v, err := p.Kind.Coerce(row[p.Name])
			if err != nil {
				return ormerrors.Wrap(ormerrors.ValidationFailed, err, "invalid value").ForEntity(et.Name, nil).ForProperty(p.Name)
			}
			row[p.Name] = v
		}
		if store.GeneratesKey(et) {
			id, _ := row[et.Keys[0]].(int64)
			if id > s.seq[et.Name] {
				s.seq[et.Name] = id
			}
		}
		s.table(et.Name)[keyOf(et, row)] = row
	}
	return nil
}

// Get returns a committed row by key
func (s *Store) Get(typeName string, key ...any) (store.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[typeName][schema.KeyString(key)]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Count returns the number of committed rows of a type
func (s *Store) Count(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[typeName])
}

// Query implements store.Store
func (s *Store) Query(ctx context.Context, et *schema.EntityType, q store.Query) ([]store.Row, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var rows []store.Row
	for _, row := range s.tables[et.Name] {
		if matches(row, q.Where) {
			rows = append(rows, row.Clone())
		}
	}
	s.mu.RUnlock()

	sortRows(et, rows, q.OrderBy)
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return []store.Row{}, nil
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}
	if rows == nil {
		rows = []store.Row{}
	}
	return rows, nil
}

// Begin implements store.Store
func (s *Store) Begin(ctx context.Context, opts transaction.Options) (store.Tx, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ormerrors.Wrap(ormerrors.StoreUnavailable, ctx.Err(), "waiting for transaction")
	}
	return &tx{store: s, opts: opts, overlay: make(map[string]map[string]store.Row)}, nil
}

// Close implements store.Store
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return ormerrors.New(ormerrors.StoreUnavailable, "store is closed")
	}
	if err := ctx.Err(); err != nil {
		return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "request ended")
	}
	return nil
}

// table returns the committed table, creating it; callers hold mu
func (s *Store) table(name string) map[string]store.Row {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]store.Row)
		s.tables[name] = t
	}
	return t
}

func (s *Store) nextID(typeName string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[typeName]++
	return s.seq[typeName]
}

// tx stages writes in an overlay applied on commit; a nil overlay row is a delete
type tx struct {
	store   *Store
	opts    transaction.Options
	overlay map[string]map[string]store.Row
	done    bool
}

func (t *tx) get(typeName, key string) (store.Row, bool) {
	if staged, ok := t.overlay[typeName][key]; ok {
		return staged, staged != nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	row, ok := t.store.tables[typeName][key]
	return row, ok
}

func (t *tx) put(typeName, key string, row store.Row) {
	staged, ok := t.overlay[typeName]
	if !ok {
		staged = make(map[string]store.Row)
		t.overlay[typeName] = staged
	}
	staged[key] = row
}

// rows returns the visible rows of a type: committed rows under the overlay
func (t *tx) rows(typeName string) []store.Row {
	t.store.mu.RLock()
	var out []store.Row
	for key, row := range t.store.tables[typeName] {
		if _, shadowed := t.overlay[typeName][key]; !shadowed {
			out = append(out, row)
		}
	}
	t.store.mu.RUnlock()
	for _, row := range t.overlay[typeName] {
		if row != nil {
			out = append(out, row)
		}
	}
	return out
}

func (t *tx) live(ctx context.Context) error {
	if t.done {
		return ormerrors.New(ormerrors.StoreUnavailable, "transaction already finished")
	}
	if t.opts.ReadOnly {
		return ormerrors.New(ormerrors.StoreUnavailable, "transaction is read only")
	}
	return t.store.check(ctx)
}

// Insert implements store.Tx
func (t *tx) Insert(ctx context.Context, et *schema.EntityType, values store.Row) (any, error) {
	if err := t.live(ctx); err != nil {
		return nil, err
	}

	row := normalizeRow(et, values)
	var generated any
	if store.GeneratesKey(et) {
		id := t.store.nextID(et.Name)
		row[et.Keys[0]] = id
		generated = id
	}

	if err := checkNotNull(et, row, et.Properties); err != nil {
		return nil, err
	}
	key := keyOf(et, row)
	if _, exists := t.get(et.Name, key); exists {
		return nil, ormerrors.New(ormerrors.ValidationFailed, "duplicate key").ForEntity(et.Name, keyValues(et, row))
	}
	if err := t.checkReferences(et, row, nil); err != nil {
		return nil, err
	}

	t.put(et.Name, key, row)
	return generated, nil
}

// Update implements store.Tx
func (t *tx) Update(ctx context.Context, et *schema.EntityType, key store.Row, set store.Row, guard *store.Guard) (int64, error) {
	if err := t.live(ctx); err != nil {
		return 0, err
	}

	k := keyOf(et, key)
	current, ok := t.get(et.Name, k)
	if !ok || !guarded(current, guard) {
		return 0, nil
	}

	next := current.Clone()
	var touched []*schema.Property
	for name, v := range set {
		p := et.Property(name)
		if p == nil || et.IsKey(name) {
			continue
		}
		next[name] = v
		touched = append(touched, p)
	}
	if err := checkNotNull(et, next, touched); err != nil {
		return 0, err
	}
	if err := t.checkReferences(et, next, set); err != nil {
		return 0, err
	}

	t.put(et.Name, k, next)
	return 1, nil
}

// Delete implements store.Tx
func (t *tx) Delete(ctx context.Context, et *schema.EntityType, key store.Row, guard *store.Guard) (int64, error) {
	if err := t.live(ctx); err != nil {
		return 0, err
	}

	k := keyOf(et, key)
	current, ok := t.get(et.Name, k)
	if !ok || !guarded(current, guard) {
		return 0, nil
	}

	keyVals := keyValues(et, current)
	for _, fk := range t.store.registry.ReferencesTo(et.Name) {
		dependent, err := t.store.registry.Lookup(fk.Dependent)
		if err != nil {
			return 0, err
		}
		for _, row := range t.rows(fk.Dependent) {
			if dependent.Name == et.Name && keyOf(dependent, row) == k {
				continue
			}
			if tupleEqual(row, fk.Properties, keyVals) {
				return 0, ormerrors.New(ormerrors.ReferentialIntegrityViolation,
					"%s still references this entity through %s", fk.Dependent, strings.Join(fk.Properties, ", ")).
					ForEntity(et.Name, keyVals)
			}
		}
	}

	t.put(et.Name, k, nil)
	return 1, nil
}

// Commit implements store.Tx
func (t *tx) Commit() error {
	if t.done {
		return ormerrors.New(ormerrors.StoreUnavailable, "transaction already finished")
	}
	t.done = true
	defer t.release()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for typeName, staged := range t.overlay {
		table := t.store.table(typeName)
		for key, row := range staged {
			if row == nil {
				delete(table, key)
				continue
			}
			table[key] = row
		}
	}
	return nil
}

// Rollback implements store.Tx
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.overlay = nil
	t.release()
	return nil
}

func (t *tx) release() {
	<-t.store.writer
}

// checkReferences verifies every complete foreign key of row points at a
// visible principal. When changed is non-nil only keys it touches are checked.
func (t *tx) checkReferences(et *schema.EntityType, row store.Row, changed store.Row) error {
	for _, fk := range t.store.registry.ForeignKeysOf(et.Name) {
		if changed != nil && !touches(changed, fk.Properties) {
			continue
		}
		tuple := make([]any, len(fk.Properties))
		complete := true
		for i, p := range fk.Properties {
			tuple[i] = row[p]
			if tuple[i] == nil {
				complete = false
			}
		}
		if !complete {
			continue
		}
		if fk.Principal == et.Name && schema.KeyString(tuple) == keyOf(et, row) {
			continue
		}
		if _, ok := t.get(fk.Principal, schema.KeyString(tuple)); !ok {
			return ormerrors.New(ormerrors.ReferentialIntegrityViolation, "no %s with key %v", fk.Principal, tuple).
				ForEntity(et.Name, keyValues(et, row)).ForProperty(fk.Properties[0])
		}
	}
	return nil
}

func touches(changed store.Row, props []string) bool {
	for _, p := range props {
		if _, ok := changed[p]; ok {
			return true
		}
	}
	return false
}

func normalizeRow(et *schema.EntityType, values store.Row) store.Row {
	row := make(store.Row, len(et.Properties))
	for _, p := range et.Properties {
		row[p.Name] = values[p.Name]
	}
	return row
}

func checkNotNull(et *schema.EntityType, row store.Row, props []*schema.Property) error {
	for _, p := range props {
		if !p.Nullable && row[p.Name] == nil {
			return ormerrors.New(ormerrors.ValidationFailed, "null value violates not-null constraint").
				ForEntity(et.Name, keyValues(et, row)).ForProperty(p.Name)
		}
	}
	return nil
}

func guarded(row store.Row, guard *store.Guard) bool {
	return guard == nil || equal(row[guard.Property], guard.Value)
}

func keyValues(et *schema.EntityType, row store.Row) []any {
	key := make([]any, len(et.Keys))
	for i, k := range et.Keys {
		key[i] = row[k]
	}
	return key
}

func keyOf(et *schema.EntityType, row store.Row) string {
	return schema.KeyString(keyValues(et, row))
}

func tupleEqual(row store.Row, props []string, values []any) bool {
	if len(props) != len(values) {
		return false
	}
	for i, p := range props {
		if row[p] == nil || !equal(row[p], values[i]) {
			return false
		}
	}
	return true
}

func matches(row store.Row, where []store.Predicate) bool {
	for _, p := range where {
		found := false
		for _, v := range p.Values {
			if equal(row[p.Property], v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortRows(et *schema.EntityType, rows []store.Row, orderBy []store.Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderBy {
			kind := et.Property(o.Property).Kind
			if c := compare(kind, rows[i][o.Property], rows[j][o.Property]); c != 0 {
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		for _, p := range et.KeyProperties() {
			if c := compare(p.Kind, rows[i][p.Name], rows[j][p.Name]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return a == b
}

// compare orders two values of the same kind; nil sorts first
func compare(kind schema.ScalarKind, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch kind {
	case schema.KindInteger:
		x, y := a.(int64), b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case schema.KindDecimal:
		x, _ := new(big.Rat).SetString(a.(string))
		y, _ := new(big.Rat).SetString(b.(string))
		if x == nil || y == nil {
			return strings.Compare(a.(string), b.(string))
		}
		return x.Cmp(y)
	case schema.KindBoolean:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case schema.KindDateTime:
		return a.(time.Time).Compare(b.(time.Time))
	case schema.KindGUID:
		return strings.Compare(a.(uuid.UUID).String(), b.(uuid.UUID).String())
	case schema.KindBinary:
		return bytes.Compare(a.([]byte), b.([]byte))
	default:
		return strings.Compare(a.(string), b.(string))
	}
}
