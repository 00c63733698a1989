package model

import "time"

// Contact is a single observed customer fingerprint. A contact is either the
// primary of its identity chain or a secondary linked to that primary.
type Contact struct {
	ID             int64
	Email          string // Empty when the contact carries no email.
	PhoneNumber    string // Empty when the contact carries no phone number.
	LinkPrecedence LinkPrecedence
	LinkedID       *int64 // Set iff LinkPrecedence is secondary.
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsPrimary reports whether the contact is the root of its chain.
func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// OlderThan reports whether c should survive a merge against other: the
// earlier CreatedAt wins, and the lower ID breaks ties.
func (c Contact) OlderThan(other Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// NewContact holds the fields a store needs to insert a contact. The store
// assigns the ID and timestamps.
type NewContact struct {
	Email          string
	PhoneNumber    string
	LinkPrecedence LinkPrecedence
	LinkedID       *int64
}
