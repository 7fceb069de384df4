package backing

import (
	"context"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/store"
)

// ArrayStore is the backing store for array fields. Arrays have fixed
// shape: the only mutations are bulk replacement and single-row append
// during that replacement, and iterator removal is a deliberate no-op.
type ArrayStore struct {
	*ElementContainerStore
}

// NewArrayStore builds the backing store for an array field.
func NewArrayStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*ArrayStore, error) {
	if m.Kind != schema.ContainerArray {
		return nil, session.NewValidationError("mapping for %q is %s, not an array", m.FieldName, m.Kind)
	}
	base, err := newElementContainerStore(db, gen, m)
	if err != nil {
		return nil, err
	}
	return &ArrayStore{ElementContainerStore: base}, nil
}

// Set replaces the owner's stored array with the given elements.
//
// Every element is validated before any write. Rows insert in position
// order with explicit order indices, within one connection scope, batched
// when more than one element is written. Failures do not stop the batch:
// every position is attempted and the aggregate error references every
// failed cause, so partial successes stay visible.
func (s *ArrayStore) Set(ctx context.Context, ec session.ExecutionContext, owner any, elements []any) error {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	em := s.elementMapping()

	// Validate everything up front; a bad element fails the whole call
	// before any row is touched.
	for i, el := range elements {
		if _, err := s.resolveComponent(em, el); err != nil {
			return session.NewValidationError(
				"array element %d of field %q: %v", i, s.m.FieldName, err)
		}
	}

	if err := s.Clear(ctx, ec, owner); err != nil {
		return err
	}
	if len(elements) == 0 {
		return nil
	}

	stmt := s.addStatement()
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	if len(elements) == 1 {
		_, elemVals, err := s.elementParams(ctx, ec, em, elements[0])
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, stmt, s.addParams(ownerVals, elemVals, 0)...); err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		return nil
	}

	batch := conn.NewBatch(stmt)
	var causes []error
	for i, el := range elements {
		_, elemVals, err := s.elementParams(ctx, ec, em, el)
		if err != nil {
			causes = append(causes, err)
			continue
		}
		batch.Add(s.addParams(ownerVals, elemVals, i)...)
	}
	_, errs := batch.Flush(ctx)
	for _, err := range errs {
		if err != nil {
			causes = append(causes, err)
		}
	}
	if len(causes) > 0 {
		return &session.StoreError{
			Code:    session.ErrCodeDatastore,
			Message: "array set failed for owner of field " + s.m.FieldName,
			SQL:     stmt.SQL,
			Causes:  causes,
		}
	}
	return nil
}

// Add inserts one element row at the given position and returns the
// per-column-group update counts. A zero count can legitimately occur for
// optional foreign-key situations, so callers inspect the counts rather
// than treating zero as an error.
func (s *ArrayStore) Add(ctx context.Context, ec session.ExecutionContext, owner, element any, position int) ([]int64, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	return s.internalAdd(ctx, ec, ownerVals, element, position)
}

func (s *ArrayStore) internalAdd(ctx context.Context, ec session.ExecutionContext, ownerVals []any, element any, position int) ([]int64, error) {
	em := s.elementMapping()
	if _, err := s.resolveComponent(em, element); err != nil {
		return nil, err
	}
	_, elemVals, err := s.elementParams(ctx, ec, em, element)
	if err != nil {
		return nil, err
	}
	stmt := s.addStatement()

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	n, err := conn.Exec(ctx, stmt, s.addParams(ownerVals, elemVals, position)...)
	if err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	return []int64{n}, nil
}

// NewIterator materializes the stored array in position order. The
// iterator's Remove is a no-op: arrays have fixed shape.
func (s *ArrayStore) NewIterator(ctx context.Context, ec session.ExecutionContext, owner any) (*Iterator, error) {
	return s.ElementContainerStore.NewIterator(ctx, ec, owner)
}
