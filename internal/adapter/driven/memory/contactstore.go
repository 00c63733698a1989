// Package memory implements the contact store port in process memory. It
// backs tests and the CONTACTLINK_STORE=memory mode; nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TxContactStore = (*ContactStore)(nil)

// ContactStore keeps contacts in a map guarded by a single mutex. InTx holds
// the mutex for the whole unit of work and operates on a copy of the state,
// which replaces the live state only when the work succeeds.
type ContactStore struct {
	mu    sync.Mutex
	state state
	nowFn func() time.Time
}

// Option configures a ContactStore.
type Option func(*ContactStore)

// WithClock replaces the timestamp source. Tests use it to control
// created_at ordering.
func WithClock(now func() time.Time) Option {
	return func(s *ContactStore) { s.nowFn = now }
}

// NewContactStore creates an empty in-memory store.
func NewContactStore(opts ...Option) *ContactStore {
	s := &ContactStore{
		state: state{contacts: map[int64]model.Contact{}},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByFields returns visible contacts matching email or phone.
func (s *ContactStore) FindByFields(ctx context.Context, email, phone string) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindByFields(ctx, email, phone)
}

// FindByID returns the visible contact with the given id, or nil.
func (s *ContactStore) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindByID(ctx, id)
}

// FindChain returns the primary and its visible secondaries.
func (s *ContactStore) FindChain(ctx context.Context, primaryID int64) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindChain(ctx, primaryID)
}

// Create inserts a contact outside of any transaction.
func (s *ContactStore) Create(ctx context.Context, c model.NewContact) (model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Create(ctx, c)
}

// Demote links id under newLinkedID outside of any transaction.
func (s *ContactStore) Demote(ctx context.Context, id, newLinkedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Demote(ctx, id, newLinkedID)
}

// ListAll returns every visible contact in chain order.
func (s *ContactStore) ListAll(_ context.Context) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.visible(func(model.Contact) bool { return true }), nil
}

// SoftDelete hides a contact from all subsequent reads.
func (s *ContactStore) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, driven.ErrContactNotFound)
	}
	now := s.nowFn()
	c.DeletedAt = &now
	c.UpdatedAt = now
	s.state.contacts[id] = c
	return nil
}

// InTx runs fn against a copy of the state and commits the copy if fn
// succeeds. Concurrent callers wait on the store mutex, so the memory store
// never reports ErrConflict.
func (s *ContactStore) InTx(ctx context.Context, fn func(tx driven.ContactStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&txView{state: &work, nowFn: s.nowFn}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *ContactStore) view() *txView {
	return &txView{state: &s.state, nowFn: s.nowFn}
}

type state struct {
	contacts map[int64]model.Contact
	lastID   int64
}

func (st state) clone() state {
	out := state{contacts: make(map[int64]model.Contact, len(st.contacts)), lastID: st.lastID}
	for id, c := range st.contacts {
		out.contacts[id] = cloneContact(c)
	}
	return out
}

// visible returns non-deleted contacts accepted by keep, ordered by
// created_at then id.
func (st state) visible(keep func(model.Contact) bool) []model.Contact {
	var out []model.Contact
	for _, c := range st.contacts {
		if c.DeletedAt != nil || !keep(c) {
			continue
		}
		out = append(out, cloneContact(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OlderThan(out[j])
	})
	return out
}

func cloneContact(c model.Contact) model.Contact {
	if c.LinkedID != nil {
		id := *c.LinkedID
		c.LinkedID = &id
	}
	if c.DeletedAt != nil {
		at := *c.DeletedAt
		c.DeletedAt = &at
	}
	return c
}

// txView implements driven.ContactStore over a state without locking; the
// owning ContactStore holds the mutex.
type txView struct {
	state *state
	nowFn func() time.Time
}

func (v *txView) FindByFields(_ context.Context, email, phone string) ([]model.Contact, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	return v.state.visible(func(c model.Contact) bool {
		return (email != "" && c.Email == email) || (phone != "" && c.PhoneNumber == phone)
	}), nil
}

func (v *txView) FindByID(_ context.Context, id int64) (*model.Contact, error) {
	c, ok := v.state.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil, nil
	}
	c = cloneContact(c)
	return &c, nil
}

func (v *txView) FindChain(_ context.Context, primaryID int64) ([]model.Contact, error) {
	return v.state.visible(func(c model.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	}), nil
}

func (v *txView) Create(_ context.Context, nc model.NewContact) (model.Contact, error) {
	if nc.Email == "" && nc.PhoneNumber == "" {
		return model.Contact{}, driven.ErrValidationFailed
	}

	precedence := nc.LinkPrecedence
	if precedence == "" {
		precedence = model.LinkPrecedencePrimary
	}
	if precedence == model.LinkPrecedenceSecondary && nc.LinkedID == nil {
		return model.Contact{}, fmt.Errorf("create secondary without linked id: %w", driven.ErrValidationFailed)
	}

	now := v.nowFn()
	v.state.lastID++
	c := model.Contact{
		ID:             v.state.lastID,
		Email:          nc.Email,
		PhoneNumber:    nc.PhoneNumber,
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if precedence == model.LinkPrecedenceSecondary && nc.LinkedID != nil {
		linked := *nc.LinkedID
		c.LinkedID = &linked
	}
	v.state.contacts[c.ID] = c

	return cloneContact(c), nil
}

func (v *txView) Demote(_ context.Context, id, newLinkedID int64) error {
	c, ok := v.state.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("demote contact %d: %w", id, driven.ErrContactNotFound)
	}

	now := v.nowFn()
	for childID, child := range v.state.contacts {
		if child.DeletedAt == nil && child.LinkedID != nil && *child.LinkedID == id {
			linked := newLinkedID
			child.LinkedID = &linked
			child.UpdatedAt = now
			v.state.contacts[childID] = child
		}
	}

	linked := newLinkedID
	c.LinkPrecedence = model.LinkPrecedenceSecondary
	c.LinkedID = &linked
	c.UpdatedAt = now
	v.state.contacts[id] = c
	return nil
}
