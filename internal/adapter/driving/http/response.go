package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// IdentifyRequest is the JSON body for the identify endpoint. Either field
// may be omitted or null.
type IdentifyRequest struct {
	Email       *string    `json:"email"`
	PhoneNumber flexString `json:"phoneNumber"`
}

// flexString accepts a JSON string, number, or null. Some clients send phone
// numbers as bare JSON numbers.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// IdentifyResponse wraps the consolidated view of the resolved chain.
type IdentifyResponse struct {
	Contact ConsolidatedViewResponse `json:"contact"`
}

// ConsolidatedViewResponse is the JSON representation of one identity chain.
type ConsolidatedViewResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// ContactResponse is the JSON representation of a stored contact.
type ContactResponse struct {
	ID             int64   `json:"id"`
	Email          *string `json:"email"`
	PhoneNumber    *string `json:"phoneNumber"`
	LinkedID       *int64  `json:"linkedId"`
	LinkPrecedence string  `json:"linkPrecedence"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// ContactsResponse is the JSON body of the list contacts endpoint.
type ContactsResponse struct {
	Contacts []ContactResponse `json:"contacts"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toConsolidatedViewResponse(v model.ConsolidatedView) ConsolidatedViewResponse {
	resp := ConsolidatedViewResponse{
		PrimaryContactID:    v.PrimaryContactID,
		Emails:              v.Emails,
		PhoneNumbers:        v.PhoneNumbers,
		SecondaryContactIDs: v.SecondaryContactIDs,
	}
	if resp.Emails == nil {
		resp.Emails = []string{}
	}
	if resp.PhoneNumbers == nil {
		resp.PhoneNumbers = []string{}
	}
	if resp.SecondaryContactIDs == nil {
		resp.SecondaryContactIDs = []int64{}
	}
	return resp
}

func toContactResponse(c model.Contact) ContactResponse {
	return ContactResponse{
		ID:             c.ID,
		Email:          optional(c.Email),
		PhoneNumber:    optional(c.PhoneNumber),
		LinkedID:       c.LinkedID,
		LinkPrecedence: string(c.LinkPrecedence),
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// optional maps the empty string to JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
