package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
)

// Sentinel errors returned by ContactStore implementations.
var (
	// ErrContactNotFound indicates a referenced contact does not exist or is deleted.
	ErrContactNotFound = errors.New("contact not found")

	// ErrValidationFailed indicates a contact was created without email or phone.
	ErrValidationFailed = errors.New("contact requires an email or phone number")

	// ErrConflict indicates the store could not serialize a unit of work
	// against a concurrent writer. Callers may retry.
	ErrConflict = errors.New("concurrent contact update")
)

// ContactStore defines the driven port for contact persistence. Every read
// excludes soft-deleted contacts.
type ContactStore interface {
	// FindByFields returns contacts whose email equals email OR whose phone
	// equals phone, in chain order. An empty argument drops that side of the
	// OR; both empty yields no contacts.
	FindByFields(ctx context.Context, email, phone string) ([]model.Contact, error)

	// FindByID returns nil, nil if the contact does not exist.
	FindByID(ctx context.Context, id int64) (*model.Contact, error)

	// FindChain returns the primary and every contact linked to it, ordered
	// by created_at then id.
	FindChain(ctx context.Context, primaryID int64) ([]model.Contact, error)

	// Create inserts a contact and returns it with ID and timestamps set.
	// Returns ErrValidationFailed if neither email nor phone is present.
	Create(ctx context.Context, c model.NewContact) (model.Contact, error)

	// Demote turns contact id into a secondary of newLinkedID and re-points
	// id's own secondaries at newLinkedID, keeping chains two levels deep.
	// Returns ErrContactNotFound if id does not exist.
	Demote(ctx context.Context, id, newLinkedID int64) error
}

// TxContactStore is a ContactStore that can run a unit of work atomically.
type TxContactStore interface {
	ContactStore

	// InTx runs fn against a transactional view of the store. Writes made
	// through tx commit only if fn returns nil. Implementations return
	// ErrConflict when the transaction cannot be started or committed
	// because of a concurrent writer.
	InTx(ctx context.Context, fn func(tx ContactStore) error) error

	// ListAll returns every contact ordered by created_at then id.
	ListAll(ctx context.Context) ([]model.Contact, error)
}
