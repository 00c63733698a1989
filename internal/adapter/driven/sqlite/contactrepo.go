package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.TxContactStore = (*ContactRepo)(nil)
	_ driven.ContactStore   = (*contactQueries)(nil)
	_ codedError            = (*moderncsqlite.Error)(nil)
)

// timeLayout is fixed width so that lexical order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

// ContactRepo is the SQLite implementation of the TxContactStore port.
type ContactRepo struct {
	db    *DB
	nowFn func() time.Time
}

// Option configures a ContactRepo.
type Option func(*ContactRepo)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *ContactRepo) { r.nowFn = now }
}

// NewContactRepo creates a new ContactRepo backed by the given DB.
func NewContactRepo(db *DB, opts ...Option) *ContactRepo {
	r := &ContactRepo{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ContactRepo) reads() *contactQueries {
	return &contactQueries{q: r.db.Reader, nowFn: r.nowFn}
}

func (r *ContactRepo) writes() *contactQueries {
	return &contactQueries{q: r.db.Writer, nowFn: r.nowFn}
}

// FindByFields returns visible contacts whose email or phone number matches.
func (r *ContactRepo) FindByFields(ctx context.Context, email, phone string) ([]model.Contact, error) {
	return r.reads().FindByFields(ctx, email, phone)
}

// FindByID returns the visible contact with the given ID, or nil if none.
func (r *ContactRepo) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	return r.reads().FindByID(ctx, id)
}

// FindChain returns the primary and its direct secondaries in chain order.
func (r *ContactRepo) FindChain(ctx context.Context, primaryID int64) ([]model.Contact, error) {
	return r.reads().FindChain(ctx, primaryID)
}

// Create inserts a contact outside of any transaction.
func (r *ContactRepo) Create(ctx context.Context, c model.NewContact) (model.Contact, error) {
	return r.writes().Create(ctx, c)
}

// Demote links id under newLinkedID. It opens its own transaction, so the
// re-parenting of id's secondaries and the demotion commit together.
func (r *ContactRepo) Demote(ctx context.Context, id, newLinkedID int64) error {
	return r.InTx(ctx, func(tx driven.ContactStore) error {
		return tx.Demote(ctx, id, newLinkedID)
	})
}

// ListAll returns every visible contact ordered by created_at then id.
func (r *ContactRepo) ListAll(ctx context.Context) ([]model.Contact, error) {
	const query = `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		ORDER BY created_at, id`

	return r.reads().queryContacts(ctx, "list contacts", query)
}

// SoftDelete stamps deleted_at on a visible contact so every later read
// skips it.
func (r *ContactRepo) SoftDelete(ctx context.Context, id int64) error {
	const query = `
		UPDATE contacts
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	now := formatTime(r.nowFn())
	res, err := r.db.Writer.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, translateErr(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete contact %d rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("soft delete contact %d: %w", id, driven.ErrContactNotFound)
	}

	return nil
}

// InTx runs fn inside one write transaction on the single writer connection.
// The transaction begins IMMEDIATE, so concurrent writers queue on the busy
// timeout; a lock that cannot be obtained surfaces as driven.ErrConflict.
func (r *ContactRepo) InTx(ctx context.Context, fn func(tx driven.ContactStore) error) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contact transaction: %w", translateErr(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&contactQueries{q: tx, nowFn: r.nowFn}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact transaction: %w", translateErr(err))
	}

	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// contactQueries implements driven.ContactStore over a pool or a transaction.
type contactQueries struct {
	q     queryer
	nowFn func() time.Time
}

func (c *contactQueries) FindByFields(ctx context.Context, email, phone string) ([]model.Contact, error) {
	var (
		clauses []string
		args    []any
	)
	if email != "" {
		clauses = append(clauses, "email = ?")
		args = append(args, email)
	}
	if phone != "" {
		clauses = append(clauses, "phone_number = ?")
		args = append(args, phone)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY created_at, id`

	return c.queryContacts(ctx, "find contacts by fields", query, args...)
}

func (c *contactQueries) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	const query = `SELECT ` + contactColumns + `
		FROM contacts
		WHERE id = ? AND deleted_at IS NULL`

	contact, err := scanContact(c.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %d: %w", id, translateErr(err))
	}

	return contact, nil
}

func (c *contactQueries) FindChain(ctx context.Context, primaryID int64) ([]model.Contact, error) {
	const query = `SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND (id = ? OR linked_id = ?)
		ORDER BY created_at, id`

	return c.queryContacts(ctx, fmt.Sprintf("find chain of contact %d", primaryID), query, primaryID, primaryID)
}

func (c *contactQueries) Create(ctx context.Context, nc model.NewContact) (model.Contact, error) {
	const query = `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if nc.Email == "" && nc.PhoneNumber == "" {
		return model.Contact{}, fmt.Errorf("create contact without email or phone number: %w", driven.ErrValidationFailed)
	}

	precedence := nc.LinkPrecedence
	if precedence == "" {
		precedence = model.LinkPrecedencePrimary
	}
	if precedence == model.LinkPrecedenceSecondary && nc.LinkedID == nil {
		return model.Contact{}, fmt.Errorf("create secondary without linked id: %w", driven.ErrValidationFailed)
	}

	var linkedID any
	if precedence == model.LinkPrecedenceSecondary {
		linkedID = *nc.LinkedID
	}

	now := c.nowFn().UTC()
	stamp := formatTime(now)

	res, err := c.q.ExecContext(ctx, query,
		nullString(nc.Email), nullString(nc.PhoneNumber), linkedID,
		string(precedence), stamp, stamp,
	)
	if err != nil {
		return model.Contact{}, fmt.Errorf("insert contact: %w", translateErr(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Contact{}, fmt.Errorf("insert contact last id: %w", err)
	}

	contact := model.Contact{
		ID:             id,
		Email:          nc.Email,
		PhoneNumber:    nc.PhoneNumber,
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if precedence == model.LinkPrecedenceSecondary {
		linked := *nc.LinkedID
		contact.LinkedID = &linked
	}

	return contact, nil
}

// Demote re-parents the secondaries of id under newLinkedID, then turns id
// itself into a secondary of newLinkedID.
func (c *contactQueries) Demote(ctx context.Context, id, newLinkedID int64) error {
	const reparent = `
		UPDATE contacts
		SET linked_id = ?, updated_at = ?
		WHERE linked_id = ? AND deleted_at IS NULL
	`
	const demote = `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	now := formatTime(c.nowFn())

	if _, err := c.q.ExecContext(ctx, reparent, newLinkedID, now, id); err != nil {
		return fmt.Errorf("re-parent secondaries of contact %d: %w", id, translateErr(err))
	}

	res, err := c.q.ExecContext(ctx, demote, newLinkedID, now, id)
	if err != nil {
		return fmt.Errorf("demote contact %d: %w", id, translateErr(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("demote contact %d rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("demote contact %d: %w", id, driven.ErrContactNotFound)
	}

	return nil
}

func (c *contactQueries) queryContacts(ctx context.Context, op, query string, args ...any) ([]model.Contact, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateErr(err))
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", translateErr(err))
	}

	return contacts, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanContact(s scanner) (*model.Contact, error) {
	var (
		contact              model.Contact
		email, phone         sql.NullString
		linkedID             sql.NullInt64
		precedence           string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)

	err := s.Scan(
		&contact.ID, &email, &phone, &linkedID, &precedence,
		&createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	contact.Email = email.String
	contact.PhoneNumber = phone.String
	contact.LinkPrecedence = model.LinkPrecedence(precedence)
	if linkedID.Valid {
		id := linkedID.Int64
		contact.LinkedID = &id
	}

	contact.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	contact.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if deletedAt.Valid {
		at, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		contact.DeletedAt = &at
	}

	return &contact, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

// codedError is implemented by *sqlite.Error from modernc.org/sqlite.
type codedError interface {
	error
	Code() int
}

// translateErr maps SQLite lock contention to driven.ErrConflict and
// constraint violations to driven.ErrValidationFailed. Extended result codes
// are reduced to their primary code first.
func translateErr(err error) error {
	var coded codedError
	if !errors.As(err, &coded) {
		return err
	}

	switch coded.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", driven.ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %w", driven.ErrValidationFailed, err)
	default:
		return err
	}
}
