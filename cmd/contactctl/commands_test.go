package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
)

// isolateEnv clears CONTACTLINK_ variables that would leak host settings into
// the command under test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONTACTLINK_DB_PATH", "CONTACTLINK_STORE", "CONTACTLINK_REDIS_ADDR",
		"CONTACTLINK_LOCK_TIMEOUT", "CONTACTLINK_LOG_LEVEL", "CONTACTLINK_LOG_FORMAT",
		"CONTACTLINK_REDIS_DB",
	} {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	isolateEnv(t)
	dbPath := filepath.Join(t.TempDir(), "contacts.db")

	out, err := runCommand(t, "migrate", "--db-path", dbPath)

	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 (dirty=false)")
}

func TestIdentifyAndListCommands(t *testing.T) {
	isolateEnv(t)
	dbPath := filepath.Join(t.TempDir(), "contacts.db")

	out, err := runCommand(t, "identify", "--db-path", dbPath, "--email", "doc@zamazon.com", "--phone", "+1234567890")
	require.NoError(t, err)

	var resp struct {
		Contact struct {
			PrimaryContactID int64    `json:"primaryContactId"`
			Emails           []string `json:"emails"`
		} `json:"contact"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"doc@zamazon.com"}, resp.Contact.Emails)

	_, err = runCommand(t, "identify", "--db-path", dbPath, "--email", "doc@zamazon.com", "--phone", "+0987654321")
	require.NoError(t, err)

	out, err = runCommand(t, "contacts", "list", "--db-path", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, "PRECEDENCE")
	rows := contactRows(out, "doc@zamazon.com")
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "primary")
	assert.Contains(t, rows[0], "+1234567890")
	assert.Contains(t, rows[1], "secondary")
	assert.Contains(t, rows[1], "+0987654321")
}

// contactRows returns the rendered table lines that mention email.
func contactRows(out, email string) []string {
	var rows []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, email) {
			rows = append(rows, line)
		}
	}
	return rows
}

func TestWriteContactTable(t *testing.T) {
	linked := int64(1)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	contacts := []model.Contact{
		{ID: 1, PhoneNumber: "1110000", LinkPrecedence: model.LinkPrecedencePrimary, CreatedAt: created},
		{ID: 2, Email: "a@x.com", LinkedID: &linked, LinkPrecedence: model.LinkPrecedenceSecondary, CreatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, writeContactTable(&buf, contacts))

	out := buf.String()
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "2026-03-01T09:00:00Z")

	primary := contactRows(out, "1110000")
	require.Len(t, primary, 1)
	assert.Contains(t, primary[0], "primary")
	assert.Contains(t, primary[0], " - ", "missing email and link render as a dash")

	secondary := contactRows(out, "a@x.com")
	require.Len(t, secondary, 1)
	assert.Contains(t, secondary[0], "secondary")
}

func TestIdentifyCommand_ValidationError(t *testing.T) {
	isolateEnv(t)

	_, err := runCommand(t, "identify", "--store", "memory")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "email,phoneNumber")
}

func TestRootCommand_RejectsUnknownStore(t *testing.T) {
	isolateEnv(t)

	_, err := runCommand(t, "contacts", "list", "--store", "postgres")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store")
}
