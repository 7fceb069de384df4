// Package session defines the collaborator boundary of the backing-store
// engine.
//
// Backing stores never own object lifecycle: persisting, deleting and field
// access on domain objects go through an ExecutionContext supplied by the
// surrounding session/transaction. The engine treats it as an injected
// capability set, never a concrete dependency, so stores can be exercised
// against an in-memory fake (see testutil).
//
// One execution context belongs to one logical session/transaction and is
// not shared across threads. Every backing-store operation is synchronous
// within it: acquire a connection, execute, release, return.
package session

import "context"

// ObjectID is an object's identity as its id-mapping column values, in
// mapping column order. Composite identities have multiple entries.
type ObjectID []any

// StateManager exposes managed-field access for one persistent object.
type StateManager interface {
	// ObjectID returns the managed object's identity.
	ObjectID() ObjectID

	// ProvideField returns the current value of a persistent field.
	ProvideField(field string) (any, error)

	// ReplaceField sets a persistent field. When makeDirty is true the
	// change is flagged for write-back and managed-relationship change
	// notifications fire.
	ReplaceField(field string, value any, makeDirty bool) error
}

// ExecutionContext is the session/object-state collaborator. All methods
// operate within the caller's transaction.
type ExecutionContext interface {
	// PersistObject makes a transient object persistent.
	PersistObject(ctx context.Context, obj any) error

	// PersistObjectWithFields persists a transient object with the given
	// managed fields pre-set, so the association columns are written as
	// part of the initial insert instead of a redundant follow-up update.
	PersistObjectWithFields(ctx context.Context, obj any, fields map[string]any) error

	// DeleteObject deletes a persistent object, cascading per its own
	// metadata.
	DeleteObject(ctx context.Context, obj any) error

	// FindStateManager returns the state manager for an object, or false
	// when the object is not managed by this context.
	FindStateManager(obj any) (StateManager, bool)

	// IsPersistent reports whether the object is persistent in this
	// context.
	IsPersistent(obj any) bool

	// IsDeleted reports whether the object is already deleted or flagged
	// for deletion in-flight. Cascade loops skip such objects.
	IsDeleted(obj any) bool

	// ObjectID returns the identity of a persistent object.
	ObjectID(obj any) (ObjectID, bool)

	// FindObject materializes the persistent object of the named concrete
	// type with the given identity, reusing the context's identity map
	// when the object is already managed.
	FindObject(ctx context.Context, typeName string, id ObjectID) (any, error)

	// SerializeRead reports whether the surrounding transaction requested
	// serialized reads; stores append FOR UPDATE to selects when set.
	SerializeRead() bool
}
