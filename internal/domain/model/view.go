package model

// ConsolidatedView is the deduplicated summary of one identity chain.
type ConsolidatedView struct {
	PrimaryContactID    int64
	Emails              []string
	PhoneNumbers        []string
	SecondaryContactIDs []int64
}

// Consolidate builds the view of a chain. chain must be in chain order
// (created_at, id) and contain the primary. The primary's email and phone
// lead their lists; the remaining values follow in chain order without
// duplicates or empties.
func Consolidate(primary Contact, chain []Contact) ConsolidatedView {
	view := ConsolidatedView{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	seenEmail := make(map[string]struct{}, len(chain))
	seenPhone := make(map[string]struct{}, len(chain))
	addEmail := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seenEmail[v]; ok {
			return
		}
		seenEmail[v] = struct{}{}
		view.Emails = append(view.Emails, v)
	}
	addPhone := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seenPhone[v]; ok {
			return
		}
		seenPhone[v] = struct{}{}
		view.PhoneNumbers = append(view.PhoneNumbers, v)
	}

	addEmail(primary.Email)
	addPhone(primary.PhoneNumber)

	for _, c := range chain {
		addEmail(c.Email)
		addPhone(c.PhoneNumber)
		if c.ID != primary.ID && c.LinkPrecedence == LinkPrecedenceSecondary {
			view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
		}
	}

	return view
}
