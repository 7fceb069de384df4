package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/relstore/internal/backing"
	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/store"
	"github.com/roach88/relstore/internal/testutil"
)

// ownerEntity is the synthetic owning object a scenario persists.
type ownerEntity struct{ name string }

// Result is a completed scenario run.
type Result struct {
	Snapshot TraceSnapshot
}

// Run executes a scenario against a fresh database at dbPath and returns
// the captured trace. Setup SQL (schema, owner row) is not traced; only
// the flow's statements are.
func Run(sc *Scenario, dbPath string) (*Result, error) {
	ctx := context.Background()

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening scenario database: %w", err)
	}
	defer db.Close()

	for _, ddl := range sc.Schema {
		if err := db.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("scenario %s schema: %w", sc.Name, err)
		}
	}

	m, err := sc.Mapping.Build(nil)
	if err != nil {
		return nil, fmt.Errorf("scenario %s mapping: %w", sc.Name, err)
	}
	if len(m.Components)+len(m.KeyComponents)+len(m.ValueComponents) > 0 {
		return nil, fmt.Errorf("scenario %s: reference components are not supported in scenarios", sc.Name)
	}

	ec, owner, err := setupOwner(ctx, db, sc)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{ScenarioName: sc.Name}
	seq := 0
	db.SetTrace(func(sqlText string, params []any) {
		seq++
		rendered := make([]string, len(params))
		for i, p := range params {
			rendered[i] = fmt.Sprintf("%v", p)
		}
		snapshot.Trace = append(snapshot.Trace, TraceEvent{Seq: seq, SQL: sqlText, Params: rendered})
	})

	runner, err := newOpRunner(db, m)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	for _, step := range sc.Flow {
		out, opErr := runner.run(ctx, ec, owner, step)
		res := OpResult{Op: step.Op, Output: out}
		if opErr != nil {
			res.Error = opErr.Error()
		}
		snapshot.Ops = append(snapshot.Ops, res)
	}
	return &Result{Snapshot: snapshot}, nil
}

// setupOwner registers the owning entity with a fake execution context and
// inserts its row.
func setupOwner(ctx context.Context, db *store.DB, sc *Scenario) (*testutil.Context, any, error) {
	idCols := make([]schema.Column, len(sc.Owner.IDColumns))
	for i, n := range sc.Owner.IDColumns {
		idCols[i] = schema.Column{Name: schema.NormalizeIdent(n)}
	}
	owner := &ownerEntity{name: sc.Name}
	comp := schema.Component{
		TypeName: "__owner",
		GoType:   reflect.TypeOf(owner),
		Table:    schema.Table{Name: schema.NormalizeIdent(sc.Owner.Table)},
		ID:       schema.ColumnMapping{Columns: idCols},
	}

	ec, err := testutil.NewContext(db, []schema.Component{comp}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if err := ec.PersistWithID(ctx, owner, session.ObjectID{sc.Owner.ID}, nil); err != nil {
		return nil, nil, fmt.Errorf("scenario %s owner: %w", sc.Name, err)
	}
	return ec, owner, nil
}

// opRunner dispatches flow steps to the store built for the mapping's
// container kind.
type opRunner struct {
	coll  *backing.CollectionStore
	list  *backing.ListStore
	array *backing.ArrayStore
	mapSt backing.MapStore
}

func newOpRunner(db *store.DB, m *schema.ContainerMapping) (*opRunner, error) {
	gen := schema.NewGeneration()
	r := &opRunner{}
	var err error
	switch m.Kind {
	case schema.ContainerCollection:
		r.coll, err = backing.NewCollectionStore(db, gen, m)
	case schema.ContainerList:
		r.list, err = backing.NewListStore(db, gen, m)
		if err == nil {
			r.coll = r.list.CollectionStore
		}
	case schema.ContainerArray:
		r.array, err = backing.NewArrayStore(db, gen, m)
	case schema.ContainerMap:
		if !m.UsesJoinTable() {
			return nil, fmt.Errorf("foreign-key maps are not supported in scenarios")
		}
		r.mapSt, err = backing.NewJoinMapStore(db, gen, m)
	default:
		err = fmt.Errorf("unsupported container kind %s", m.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *opRunner) run(ctx context.Context, ec session.ExecutionContext, owner any, step Step) (string, error) {
	switch step.Op {
	case "add":
		return "", r.coll.Add(ctx, ec, owner, step.Element)
	case "remove":
		return "", r.coll.Remove(ctx, ec, owner, step.Element)
	case "contains":
		in, err := r.coll.Contains(ctx, ec, owner, step.Element)
		return fmt.Sprintf("%t", in), err
	case "size":
		n, err := r.sizeStore().Size(ctx, ec, owner)
		return fmt.Sprintf("%d", n), err
	case "clear":
		return "", r.clearStore().Clear(ctx, ec, owner)
	case "iterate":
		return r.iterate(ctx, ec, owner)
	case "update":
		return "", r.coll.Update(ctx, ec, owner, step.Elements)
	case "get_at":
		v, err := r.list.Get(ctx, ec, owner, step.Index)
		return fmt.Sprintf("%v", v), err
	case "set_at":
		return "", r.list.SetAt(ctx, ec, owner, step.Index, step.Element)
	case "remove_at":
		return "", r.list.RemoveAt(ctx, ec, owner, step.Index)
	case "set":
		return "", r.array.Set(ctx, ec, owner, step.Elements)
	case "put":
		return "", r.mapSt.Put(ctx, ec, owner, step.Key, step.Value)
	case "put_all":
		entries := make([]backing.Entry, len(step.Entries))
		for i, e := range step.Entries {
			entries[i] = backing.Entry{Key: e.Key, Value: e.Value}
		}
		return "", r.mapSt.PutAll(ctx, ec, owner, entries)
	case "get":
		v, err := r.mapSt.Get(ctx, ec, owner, step.Key)
		return fmt.Sprintf("%v", v), err
	case "contains_key":
		in, err := r.mapSt.ContainsKey(ctx, ec, owner, step.Key)
		return fmt.Sprintf("%t", in), err
	case "map_remove":
		return "", r.mapSt.Remove(ctx, ec, owner, step.Key)
	case "map_size":
		n, err := r.mapSt.Size(ctx, ec, owner)
		return fmt.Sprintf("%d", n), err
	case "map_clear":
		return "", r.mapSt.Clear(ctx, ec, owner)
	case "entries":
		entries, err := r.mapSt.Entries(ctx, ec, owner)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(entries))
		for i, e := range entries {
			parts[i] = fmt.Sprintf("%v=%v", e.Key, e.Value)
		}
		sort.Strings(parts)
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

// sizeStore picks the store carrying Size for the scenario's kind.
func (r *opRunner) sizeStore() interface {
	Size(context.Context, session.ExecutionContext, any) (int, error)
} {
	switch {
	case r.coll != nil:
		return r.coll
	case r.array != nil:
		return r.array
	default:
		return mapSizeAdapter{r.mapSt}
	}
}

func (r *opRunner) clearStore() interface {
	Clear(context.Context, session.ExecutionContext, any) error
} {
	switch {
	case r.coll != nil:
		return r.coll
	case r.array != nil:
		return r.array
	default:
		return mapSizeAdapter{r.mapSt}
	}
}

// mapSizeAdapter narrows MapStore to the shared size/clear shape.
type mapSizeAdapter struct{ ms backing.MapStore }

func (a mapSizeAdapter) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	return a.ms.Size(ctx, ec, owner)
}

func (a mapSizeAdapter) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	return a.ms.Clear(ctx, ec, owner)
}

func (r *opRunner) iterate(ctx context.Context, ec session.ExecutionContext, owner any) (string, error) {
	var it *backing.Iterator
	var err error
	if r.array != nil {
		it, err = r.array.NewIterator(ctx, ec, owner)
	} else {
		it, err = r.coll.NewIterator(ctx, ec, owner)
	}
	if err != nil {
		return "", err
	}
	var parts []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, ","), nil
}
