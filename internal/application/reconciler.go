// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// maxConflictRetries is how many times Resolve re-runs a reconciliation that
// lost a race before surfacing driven.ErrConflict.
const maxConflictRetries = 1

// StoreError wraps a persistence failure with the store operation that
// produced it. errors.Is still reaches the underlying sentinel.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("contact store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Reconciler links incoming observations into primary/secondary contact
// chains. It depends only on port interfaces.
type Reconciler struct {
	store    driven.TxContactStore
	locker   driven.FingerprintLocker
	recorder driven.ResolveRecorder
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. locker and recorder may be nil, in
// which case fingerprints are not locked and telemetry is dropped.
func NewReconciler(
	store driven.TxContactStore,
	locker driven.FingerprintLocker,
	recorder driven.ResolveRecorder,
	logger *slog.Logger,
) *Reconciler {
	if locker == nil {
		locker = nopLocker{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		locker:   locker,
		recorder: recorder,
		logger:   logger,
	}
}

// resolution is the result of one reconciliation attempt.
type resolution struct {
	view    model.ConsolidatedView
	outcome model.ResolveOutcome
}

// Resolve matches obs against stored contacts, creating, demoting or linking
// contacts as needed, and returns the consolidated view of the resulting
// chain. Invalid observations fail with *model.ValidationError before the
// store is touched. A reconciliation that hits driven.ErrConflict is retried
// once.
func (r *Reconciler) Resolve(ctx context.Context, obs model.Observation) (*model.ConsolidatedView, error) {
	obs = obs.Normalize()
	if err := model.ValidateObservation(obs); err != nil {
		r.recorder.ObserveFailure(failureReason(err))
		return nil, err
	}

	start := time.Now()

	var (
		res resolution
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = r.attempt(ctx, obs)
		if err == nil || !errors.Is(err, driven.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
		r.recorder.ObserveRetry()
		r.logger.Warn("reconciliation conflict, retrying", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		r.recorder.ObserveFailure(failureReason(err))
		return nil, err
	}

	elapsed := time.Since(start)
	r.recorder.ObserveResolve(res.outcome, elapsed)
	r.logger.Debug("observation resolved",
		"outcome", res.outcome,
		"primary_contact_id", res.view.PrimaryContactID,
		"secondary_count", len(res.view.SecondaryContactIDs),
		"duration", elapsed,
	)

	return &res.view, nil
}

// ListContacts returns every visible contact in chain order.
func (r *Reconciler) ListContacts(ctx context.Context) ([]model.Contact, error) {
	contacts, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, storeErr("list contacts", err)
	}
	return contacts, nil
}

// attempt runs one locked, transactional reconciliation.
func (r *Reconciler) attempt(ctx context.Context, obs model.Observation) (resolution, error) {
	unlock, err := r.locker.Lock(ctx, obs.Fingerprints()...)
	if err != nil {
		return resolution{}, fmt.Errorf("lock fingerprints: %w", err)
	}
	defer unlock()

	var res resolution
	err = r.store.InTx(ctx, func(tx driven.ContactStore) error {
		var txErr error
		res, txErr = reconcile(ctx, tx, obs)
		return txErr
	})
	if err != nil {
		return resolution{}, err
	}
	return res, nil
}

// reconcile is the decision procedure. Every write goes through tx so that a
// failure part way leaves nothing behind.
func reconcile(ctx context.Context, tx driven.ContactStore, obs model.Observation) (resolution, error) {
	matches, err := tx.FindByFields(ctx, obs.Email, obs.PhoneNumber)
	if err != nil {
		return resolution{}, storeErr("find by fields", err)
	}

	if len(matches) == 0 {
		c, err := tx.Create(ctx, model.NewContact{
			Email:          obs.Email,
			PhoneNumber:    obs.PhoneNumber,
			LinkPrecedence: model.LinkPrecedencePrimary,
		})
		if err != nil {
			return resolution{}, storeErr("create primary", err)
		}
		return resolution{
			view:    model.Consolidate(c, []model.Contact{c}),
			outcome: model.OutcomeCreatedPrimary,
		}, nil
	}

	if exact, ok := exactMatch(matches, obs); ok {
		root, err := rootOf(ctx, tx, exact)
		if err != nil {
			return resolution{}, err
		}
		chain, err := tx.FindChain(ctx, root.ID)
		if err != nil {
			return resolution{}, storeErr("find chain", err)
		}
		return resolution{
			view:    model.Consolidate(root, chain),
			outcome: model.OutcomeExactMatch,
		}, nil
	}

	roots, err := rootsOf(ctx, tx, matches)
	if err != nil {
		return resolution{}, err
	}

	survivor := roots[0]
	for _, p := range roots[1:] {
		if p.OlderThan(survivor) {
			survivor = p
		}
	}

	outcome := model.OutcomeLinked
	for _, p := range roots {
		if p.ID == survivor.ID {
			continue
		}
		if err := tx.Demote(ctx, p.ID, survivor.ID); err != nil {
			return resolution{}, storeErr(fmt.Sprintf("demote contact %d", p.ID), err)
		}
		outcome = model.OutcomeMerged
	}

	chain, err := tx.FindChain(ctx, survivor.ID)
	if err != nil {
		return resolution{}, storeErr("find chain", err)
	}

	if carriesNewInformation(chain, obs) {
		linkedID := survivor.ID
		c, err := tx.Create(ctx, model.NewContact{
			Email:          obs.Email,
			PhoneNumber:    obs.PhoneNumber,
			LinkPrecedence: model.LinkPrecedenceSecondary,
			LinkedID:       &linkedID,
		})
		if err != nil {
			return resolution{}, storeErr("create secondary", err)
		}
		chain = append(chain, c)
		if outcome != model.OutcomeMerged {
			outcome = model.OutcomeCreatedSecondary
		}
	}

	return resolution{
		view:    model.Consolidate(survivor, chain),
		outcome: outcome,
	}, nil
}

// exactMatch returns the first contact carrying both given fields. It only
// applies when the observation has both an email and a phone number.
func exactMatch(matches []model.Contact, obs model.Observation) (model.Contact, bool) {
	if !obs.HasEmail() || !obs.HasPhoneNumber() {
		return model.Contact{}, false
	}
	for _, c := range matches {
		if c.Email == obs.Email && c.PhoneNumber == obs.PhoneNumber {
			return c, true
		}
	}
	return model.Contact{}, false
}

// rootsOf returns the distinct chain primaries reached from matches, in the
// order they are first seen.
func rootsOf(ctx context.Context, tx driven.ContactStore, matches []model.Contact) ([]model.Contact, error) {
	seen := make(map[int64]struct{}, len(matches))
	var roots []model.Contact
	for _, m := range matches {
		root, err := rootOf(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[root.ID]; ok {
			continue
		}
		seen[root.ID] = struct{}{}
		roots = append(roots, root)
	}
	return roots, nil
}

// rootOf follows LinkedID from c until it reaches a primary. Chains written by
// this service are two levels deep, so the loop normally runs at most once;
// deeper links are followed so that older data still resolves.
func rootOf(ctx context.Context, tx driven.ContactStore, c model.Contact) (model.Contact, error) {
	visited := map[int64]struct{}{c.ID: {}}
	for !c.IsPrimary() {
		if c.LinkedID == nil {
			return model.Contact{}, fmt.Errorf("secondary contact %d has no linked contact: %w", c.ID, driven.ErrContactNotFound)
		}
		linkedID := *c.LinkedID
		if _, ok := visited[linkedID]; ok {
			return model.Contact{}, fmt.Errorf("link cycle at contact %d: %w", linkedID, driven.ErrContactNotFound)
		}
		visited[linkedID] = struct{}{}

		next, err := tx.FindByID(ctx, linkedID)
		if err != nil {
			return model.Contact{}, storeErr(fmt.Sprintf("find contact %d", linkedID), err)
		}
		if next == nil {
			return model.Contact{}, fmt.Errorf("contact %d links to contact %d: %w", c.ID, linkedID, driven.ErrContactNotFound)
		}
		c = *next
	}
	return c, nil
}

// carriesNewInformation reports whether obs has an email or phone number that
// no chain member carries yet.
func carriesNewInformation(chain []model.Contact, obs model.Observation) bool {
	emailKnown := !obs.HasEmail()
	phoneKnown := !obs.HasPhoneNumber()
	for _, c := range chain {
		if c.Email == obs.Email {
			emailKnown = true
		}
		if c.PhoneNumber == obs.PhoneNumber {
			phoneKnown = true
		}
	}
	return !emailKnown || !phoneKnown
}

// failureReason labels an error for telemetry.
func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidObservation):
		return "validation"
	case errors.Is(err, driven.ErrConflict):
		return "conflict"
	case errors.Is(err, driven.ErrContactNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "store"
	}
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, ...string) (func(), error) { return func() {}, nil }

type nopRecorder struct{}

func (nopRecorder) ObserveResolve(model.ResolveOutcome, time.Duration) {}
func (nopRecorder) ObserveFailure(string)                              {}
func (nopRecorder) ObserveRetry()                                      {}
