package model

// LinkPrecedence marks a contact's position in its identity chain.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Valid reports whether p is a known precedence value.
func (p LinkPrecedence) Valid() bool {
	return p == LinkPrecedencePrimary || p == LinkPrecedenceSecondary
}

// ResolveOutcome describes what a reconciliation did to the store.
type ResolveOutcome string

const (
	OutcomeCreatedPrimary   ResolveOutcome = "created_primary"   // No match; new chain started.
	OutcomeExactMatch       ResolveOutcome = "exact_match"       // Both fields already on one contact.
	OutcomeLinked           ResolveOutcome = "linked"            // Partial match, nothing new to record.
	OutcomeCreatedSecondary ResolveOutcome = "created_secondary" // Partial match carrying new information.
	OutcomeMerged           ResolveOutcome = "merged"            // Two or more chains joined.
)
