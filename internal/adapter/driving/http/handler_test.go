package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contactlink/internal/adapter/driven/memory"
	httphandler "github.com/ericfisherdev/contactlink/internal/adapter/driving/http"
	"github.com/ericfisherdev/contactlink/internal/application"
	"github.com/ericfisherdev/contactlink/internal/domain/model"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// --- Mock implementations ---

// brokenStore fails every transaction and listing with err, or panics when
// panicMsg is set.
type brokenStore struct {
	*memory.ContactStore
	err      error
	panicMsg string
}

func (s *brokenStore) InTx(_ context.Context, _ func(tx driven.ContactStore) error) error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.err
}

func (s *brokenStore) ListAll(_ context.Context) ([]model.Contact, error) {
	return nil, s.err
}

// --- Helpers ---

func setupMux(store driven.TxContactStore) http.Handler {
	reconciler := application.NewReconciler(store, nil, nil, slog.Default())
	h := httphandler.NewHandler(reconciler, nil, slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func postIdentify(t *testing.T, mux http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/identify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestIdentify_CreatesPrimary(t *testing.T) {
	mux := setupMux(memory.NewContactStore())

	rec := postIdentify(t, mux, `{"email":"doc@zamazon.com","phoneNumber":"+1234567890"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp httphandler.IdentifyResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"doc@zamazon.com"}, resp.Contact.Emails)
	assert.Equal(t, []string{"+1234567890"}, resp.Contact.PhoneNumbers)
	assert.Equal(t, []int64{}, resp.Contact.SecondaryContactIDs)
}

func TestIdentify_ResponseShape(t *testing.T) {
	mux := setupMux(memory.NewContactStore())

	rec := postIdentify(t, mux, `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]map[string]any
	decodeJSON(t, rec, &raw)
	contact, ok := raw["contact"]
	require.True(t, ok)
	assert.Equal(t, float64(1), contact["primaryContactId"])
	assert.Equal(t, []any{"a@x.com"}, contact["emails"])
	// Empty collections are arrays, not null.
	assert.Equal(t, []any{}, contact["phoneNumbers"])
	assert.Equal(t, []any{}, contact["secondaryContactIds"])
}

func TestIdentify_LinksSecondary(t *testing.T) {
	mux := setupMux(memory.NewContactStore())
	require.Equal(t, http.StatusOK, postIdentify(t, mux, `{"email":"doc@zamazon.com","phoneNumber":"+1234567890"}`).Code)

	rec := postIdentify(t, mux, `{"email":"doc@zamazon.com","phoneNumber":"+0987654321"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.IdentifyResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"+1234567890", "+0987654321"}, resp.Contact.PhoneNumbers)
	assert.Equal(t, []int64{2}, resp.Contact.SecondaryContactIDs)
}

func TestIdentify_NumericPhoneNumber(t *testing.T) {
	mux := setupMux(memory.NewContactStore())

	rec := postIdentify(t, mux, `{"email":null,"phoneNumber":1234567890}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.IdentifyResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, []string{"1234567890"}, resp.Contact.PhoneNumbers)
	assert.Equal(t, []string{}, resp.Contact.Emails)
}

func TestIdentify_BadRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{name: "malformed json", body: `{"email":`, wantMessage: "invalid request body"},
		{name: "wrong type", body: `{"phoneNumber":true}`, wantMessage: "invalid request body"},
		{name: "empty object", body: `{}`, wantMessage: "email,phoneNumber"},
		{name: "both null", body: `{"email":null,"phoneNumber":null}`, wantMessage: "email,phoneNumber"},
		{name: "bad email", body: `{"email":"not-an-email"}`, wantMessage: "email"},
		{name: "bad phone", body: `{"phoneNumber":"12"}`, wantMessage: "phoneNumber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(memory.NewContactStore())

			rec := postIdentify(t, mux, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp map[string]string
			decodeJSON(t, rec, &resp)
			assert.Contains(t, resp["error"], tt.wantMessage)
		})
	}
}

func TestIdentify_ConflictIs409(t *testing.T) {
	mux := setupMux(&brokenStore{ContactStore: memory.NewContactStore(), err: driven.ErrConflict})

	rec := postIdentify(t, mux, `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdentify_StoreFailureHidesInternals(t *testing.T) {
	mux := setupMux(&brokenStore{ContactStore: memory.NewContactStore(), err: errors.New("disk on fire at /var/lib/contactlink.db")})

	rec := postIdentify(t, mux, `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal server error", resp["error"])
}

func TestIdentify_PanicRecovered(t *testing.T) {
	mux := setupMux(&brokenStore{ContactStore: memory.NewContactStore(), panicMsg: "boom"})

	rec := postIdentify(t, mux, `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIdentify_MethodNotAllowed(t *testing.T) {
	mux := setupMux(memory.NewContactStore())
	req := httptest.NewRequest(http.MethodGet, "/api/identify", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListContacts(t *testing.T) {
	tests := []struct {
		name       string
		seed       []string
		store      func() driven.TxContactStore
		wantStatus int
		wantLen    int
	}{
		{
			name:       "empty store is an empty list",
			store:      func() driven.TxContactStore { return memory.NewContactStore() },
			wantStatus: http.StatusOK,
			wantLen:    0,
		},
		{
			name:       "primary and secondary",
			seed:       []string{`{"email":"a@x.com"}`, `{"email":"a@x.com","phoneNumber":"1110000"}`},
			store:      func() driven.TxContactStore { return memory.NewContactStore() },
			wantStatus: http.StatusOK,
			wantLen:    2,
		},
		{
			name: "store error",
			store: func() driven.TxContactStore {
				return &brokenStore{ContactStore: memory.NewContactStore(), err: errors.New("db fail")}
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(tt.store())
			for _, body := range tt.seed {
				require.Equal(t, http.StatusOK, postIdentify(t, mux, body).Code)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp struct {
				Contacts []map[string]any `json:"contacts"`
			}
			decodeJSON(t, rec, &resp)
			require.NotNil(t, resp.Contacts)
			assert.Len(t, resp.Contacts, tt.wantLen)

			if tt.wantLen == 2 {
				first, second := resp.Contacts[0], resp.Contacts[1]
				assert.Equal(t, "primary", first["linkPrecedence"])
				assert.Nil(t, first["phoneNumber"])
				assert.Nil(t, first["linkedId"])
				assert.Equal(t, "secondary", second["linkPrecedence"])
				assert.Equal(t, float64(1), second["linkedId"])
				assert.Equal(t, "1110000", second["phoneNumber"])
			}
		})
	}
}

func TestHealth(t *testing.T) {
	mux := setupMux(memory.NewContactStore())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.HealthResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Time)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("contactlink_resolve_total 0\n"))
	})
	reconciler := application.NewReconciler(memory.NewContactStore(), nil, nil, slog.Default())
	mux := httphandler.NewServeMux(httphandler.NewHandler(reconciler, metrics, slog.Default()), slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contactlink_resolve_total")

	// Without a metrics handler the route does not exist.
	rec = httptest.NewRecorder()
	setupMux(memory.NewContactStore()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	mux := setupMux(memory.NewContactStore())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(httphandler.RequestIDHeader, "caller-supplied")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get(httphandler.RequestIDHeader))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, rec.Header().Get(httphandler.RequestIDHeader), 36, "generated ids are UUIDs")
}
