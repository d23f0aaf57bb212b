package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenjisakuragi/YT2Mail/internal/localstore"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestUserAdd_LocalStore(t *testing.T) {
	dbURL := localstore.Scheme + filepath.Join(t.TempDir(), "yt2mail.db")
	t.Setenv("DATABASE_URL", dbURL)
	t.Setenv("YT2MAIL_CONFIG", "")

	require.NoError(t, execute(t, "user", "add", "trial@example.com", "--status", "trialing"))
	require.NoError(t, execute(t, "user", "add", "gone@example.com", "--status", "canceled"))
	require.NoError(t, execute(t, "user", "add", "boss@example.com", "--status", "canceled", "--admin"))

	db, err := localstore.Open(dbURL)
	require.NoError(t, err)
	defer db.Close()

	users, err := localstore.NewUserRepo(db).ListEntitled(context.Background())
	require.NoError(t, err)

	var emails []string
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	assert.ElementsMatch(t, []string{"trial@example.com", "boss@example.com"}, emails)
}

func TestUserAdd_RejectsUnknownStatus(t *testing.T) {
	t.Setenv("DATABASE_URL", localstore.Scheme+filepath.Join(t.TempDir(), "yt2mail.db"))
	assert.Error(t, execute(t, "user", "add", "x@example.com", "--status", "vip"))
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("YT2MAIL_CONFIG", "")
	assert.Error(t, execute(t, "digest"))
}

func TestBackfillRequiresChannel(t *testing.T) {
	t.Setenv("DATABASE_URL", localstore.Scheme+":memory:")
	assert.Error(t, execute(t, "backfill"))
}
