// Package persist applies resolved save operations to the store inside a
// single transaction, reconciling temporary keys and concurrency stamps.
package persist

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/bundle"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/tracking"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

// Executor runs operation lists against the store
type Executor struct {
	tm      *transaction.Manager[store.Tx]
	logger  *zap.Logger
	now     func() time.Time
	newUUID func() uuid.UUID
}

// Option configures an Executor
type Option func(*Executor)

// WithClock overrides the clock used for datetime stamps
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithUUIDGenerator overrides the generator used for guid keys and stamps
func WithUUIDGenerator(gen func() uuid.UUID) Option {
	return func(e *Executor) { e.newUUID = gen }
}

// NewExecutor creates an executor running in transactions from tm
func NewExecutor(tm *transaction.Manager[store.Tx], logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{tm: tm, logger: logger, now: time.Now, newUUID: uuid.New}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies ops atomically. Instances are updated in place with their
// permanent keys, propagated foreign keys and new concurrency stamps, and
// restored to their submitted values if the transaction does not commit.
//
// On failure the returned result carries exactly one error and the same
// error is returned.
func (e *Executor) Execute(ctx context.Context, ops []bundle.Operation) (*entity.SaveResult, error) {
	saved := snapshot(ops)

	var mappings []entity.KeyMapping
	err := e.tm.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		// Retries start from the submitted values
		saved.restore()
		mappings = mappings[:0]

		for _, op := range ops {
			m, err := e.apply(ctx, tx, op)
			if err != nil {
				err = saved.attribute(err, op.Entity)
				e.logger.Debug("operation failed",
					zap.String("op", op.Kind.String()),
					zap.Stringer("entity", op.Entity),
					zap.Error(err))
				return err
			}
			mappings = append(mappings, m...)
		}
		return nil
	})
	if err != nil {
		saved.restore()
		err = normalize(err)
		e.logger.Info("save rolled back", zap.Int("operations", len(ops)), zap.String("kind", string(ormerrors.KindOf(err))))
		return Failure(err), err
	}

	e.logger.Info("save committed", zap.Int("operations", len(ops)), zap.Int("keyMappings", len(mappings)))
	return &entity.SaveResult{
		KeyMappings: append([]entity.KeyMapping{}, mappings...),
		Entities:    results(ops),
	}, nil
}

func (e *Executor) apply(ctx context.Context, tx store.Tx, op bundle.Operation) ([]entity.KeyMapping, error) {
	switch op.Kind {
	case bundle.OpInsert:
		return e.insert(ctx, tx, op)
	case bundle.OpPatch:
		return nil, e.patch(ctx, tx, op)
	case bundle.OpUpdate:
		return nil, e.update(ctx, tx, op)
	case bundle.OpDelete:
		return nil, e.delete(ctx, tx, op)
	}
	return nil, ormerrors.New(ormerrors.SchemaInconsistency, "unknown operation %s", op.Kind)
}

func (e *Executor) insert(ctx context.Context, tx store.Tx, op bundle.Operation) ([]entity.KeyMapping, error) {
	inst := op.Entity
	et := inst.Type
	propagate(inst, op.Dependencies)
	for _, d := range op.Deferred {
		for _, p := range d.Properties {
			inst.Values[p] = nil
		}
	}

	var mappings []entity.KeyMapping
	if et.HasGeneratedKey() && !store.GeneratesKey(et) {
		key := et.Keys[0]
		temp := inst.Values[key]
		permanent := e.newUUID()
		inst.Values[key] = permanent
		mappings = append(mappings, entity.KeyMapping{EntityType: et.Name, TempValue: temp, RealValue: permanent})
	}

	if p := et.ConcurrencyProperty(); p != nil {
		if stamp, ok := e.stamp(p, nil); ok {
			inst.Values[p.Name] = stamp
		}
	}

	row := make(store.Row, len(et.Properties))
	for _, p := range et.Properties {
		if v, ok := inst.Values[p.Name]; ok {
			row[p.Name] = v
		}
	}

	generated, err := tx.Insert(ctx, et, row)
	if err != nil {
		return nil, forEntity(err, inst)
	}
	if store.GeneratesKey(et) {
		key := et.Keys[0]
		temp := inst.Values[key]
		permanent, err := et.KeyProperties()[0].Kind.Coerce(generated)
		if err != nil || permanent == nil {
			return nil, ormerrors.New(ormerrors.StoreUnavailable, "store returned no key").ForEntity(et.Name, inst.Key())
		}
		inst.Values[key] = permanent
		mappings = append(mappings, entity.KeyMapping{EntityType: et.Name, TempValue: temp, RealValue: permanent})
	}
	return mappings, nil
}

// patch sets foreign keys that were inserted null to break a cycle
func (e *Executor) patch(ctx context.Context, tx store.Tx, op bundle.Operation) error {
	inst := op.Entity
	propagate(inst, op.Dependencies)

	set := make(store.Row)
	for _, d := range op.Dependencies {
		for _, p := range d.Properties {
			set[p] = inst.Values[p]
		}
	}
	n, err := tx.Update(ctx, inst.Type, store.KeyRow(inst.Type, inst.Values), set, nil)
	if err != nil {
		return forEntity(err, inst)
	}
	if n == 0 {
		return ormerrors.New(ormerrors.ConcurrencyConflict, "inserted row vanished before its foreign keys were set").
			ForEntity(inst.TypeName(), inst.Key())
	}
	return nil
}

func (e *Executor) update(ctx context.Context, tx store.Tx, op bundle.Operation) error {
	inst := op.Entity
	et := inst.Type
	propagate(inst, op.Dependencies)

	set := store.Row(tracking.NewChangeTracker(inst).GetChangedData())
	for _, d := range op.Dependencies {
		for _, p := range d.Properties {
			set[p] = inst.Values[p]
		}
	}

	guard, err := e.guardFor(inst)
	if err != nil {
		return err
	}
	if guard != nil {
		p := et.ConcurrencyProperty()
		if stamp, ok := e.stamp(p, guard.Value); ok {
			set[p.Name] = stamp
			inst.Values[p.Name] = stamp
		} else if v := inst.Values[p.Name]; v != nil && !sameValue(v, guard.Value) {
			set[p.Name] = v
		}
	}

	n, err := tx.Update(ctx, et, store.KeyRow(et, inst.Values), set, guard)
	if err != nil {
		return forEntity(err, inst)
	}
	if n == 0 {
		return conflict(inst, "row was changed or removed since it was read")
	}
	return nil
}

func (e *Executor) delete(ctx context.Context, tx store.Tx, op bundle.Operation) error {
	inst := op.Entity
	var guard *store.Guard
	if p := inst.Type.ConcurrencyProperty(); p != nil {
		if v, ok := inst.ConcurrencyValue(); ok {
			guard = &store.Guard{Property: p.Name, Value: v}
		}
	}

	n, err := tx.Delete(ctx, inst.Type, store.KeyRow(inst.Type, inst.Values), guard)
	if err != nil {
		return forEntity(err, inst)
	}
	if n == 0 {
		return conflict(inst, "row was changed or removed since it was read")
	}
	return nil
}

func (e *Executor) guardFor(inst *entity.Instance) (*store.Guard, error) {
	p := inst.Type.ConcurrencyProperty()
	if p == nil {
		return nil, nil
	}
	v, ok := inst.ConcurrencyValue()
	if !ok {
		return nil, ormerrors.New(ormerrors.ValidationFailed, "concurrency value required").
			ForEntity(inst.TypeName(), inst.Key()).ForProperty(p.Name)
	}
	return &store.Guard{Property: p.Name, Value: v}, nil
}

// propagate copies principal keys into the dependent's foreign keys
func propagate(inst *entity.Instance, deps []bundle.Dependency) {
	for _, d := range deps {
		key := d.Principal.Key()
		for i, p := range d.Properties {
			if i < len(key) {
				inst.Values[p] = key[i]
			}
		}
	}
}

func conflict(inst *entity.Instance, msg string) error {
	return ormerrors.New(ormerrors.ConcurrencyConflict, "%s", msg).ForEntity(inst.TypeName(), inst.Key())
}

// forEntity attributes a store error to the entity that triggered it
func forEntity(err error, inst *entity.Instance) error {
	oe, ok := ormerrors.As(err)
	if !ok {
		return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "store failure").ForEntity(inst.TypeName(), inst.Key())
	}
	if oe.EntityType == "" || len(oe.Key) == 0 {
		out := *oe
		out.EntityType = inst.TypeName()
		out.Key = inst.Key()
		return &out
	}
	return err
}

// normalize gives every failure a kind
func normalize(err error) error {
	if _, ok := ormerrors.As(err); ok {
		return err
	}
	return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "save failed")
}

// Failure builds the result document for a failed save
func Failure(err error) *entity.SaveResult {
	ee := entity.EntityError{Kind: string(ormerrors.StoreUnavailable), Message: err.Error()}
	if oe, ok := ormerrors.As(err); ok {
		ee = entity.EntityError{
			Kind:       string(oe.Kind),
			EntityType: oe.EntityType,
			Key:        oe.Key,
			Property:   oe.Property,
			Message:    oe.Error(),
		}
	}
	return &entity.SaveResult{Errors: []entity.EntityError{ee}}
}

// results snapshots every saved entity once, in submission order
func results(ops []bundle.Operation) []*entity.Instance {
	byIndex := make(map[int]*entity.Instance)
	var order []int
	for _, op := range ops {
		if _, ok := byIndex[op.Index]; ok {
			continue
		}
		byIndex[op.Index] = op.Entity
		order = append(order, op.Index)
	}
	sort.Ints(order)

	out := make([]*entity.Instance, 0, len(order))
	for _, idx := range order {
		inst := byIndex[idx]
		snap := inst.Snapshot()
		if inst.State != entity.Deleted {
			snap.State = entity.Unchanged
		}
		out = append(out, snap)
	}
	return out
}

func sameValue(a, b any) bool {
	return schema.KeyString([]any{a}) == schema.KeyString([]any{b})
}

// values holds the submitted property maps of every instance in a batch
type values map[*entity.Instance]map[string]any

func snapshot(ops []bundle.Operation) values {
	v := make(values, len(ops))
	for _, op := range ops {
		if _, ok := v[op.Entity]; ok {
			continue
		}
		copied := make(map[string]any, len(op.Entity.Values))
		for k, val := range op.Entity.Values {
			copied[k] = val
		}
		v[op.Entity] = copied
	}
	return v
}

func (v values) restore() {
	for inst, saved := range v {
		restored := make(map[string]any, len(saved))
		for k, val := range saved {
			restored[k] = val
		}
		inst.Values = restored
	}
}

// attribute names the failing entity by the key it was submitted with
// rather than a key assigned during the save
func (v values) attribute(err error, inst *entity.Instance) error {
	oe, ok := ormerrors.As(err)
	if !ok || oe.EntityType != inst.TypeName() || schema.KeyString(oe.Key) != inst.KeyString() {
		return err
	}
	submitted, ok := v[inst]
	if !ok {
		return err
	}
	key := make([]any, len(inst.Type.Keys))
	for i, k := range inst.Type.Keys {
		key[i] = submitted[k]
	}
	out := *oe
	out.Key = key
	return &out
}

// stamp returns the next server concurrency value for kinds the gateway manages
func (e *Executor) stamp(p *schema.Property, current any) (any, bool) {
	switch p.Kind {
	case schema.KindInteger:
		n, _ := current.(int64)
		return n + 1, true
	case schema.KindGUID:
		return e.newUUID(), true
	case schema.KindDateTime:
		// Postgres keeps microseconds; a finer stamp would never match again
		return e.now().UTC().Truncate(time.Microsecond), true
	}
	return nil, false
}
