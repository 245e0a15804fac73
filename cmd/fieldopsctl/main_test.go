package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/auth"
	"github.com/pkordes/fieldops/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand_IssuesVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	user := uuid.New()

	out, err := execute(t, "token", "--role", "DISPATCHER", "--user", user.String())

	require.NoError(t, err)
	actor, err := auth.NewManager("cli-secret").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, user, actor.UserID)
	assert.Equal(t, domain.RoleDispatcher, actor.Role)
}

func TestTokenCommand_Rejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	_, err := execute(t, "token", "--role", "DRIVER", "--user", "")
	assert.ErrorContains(t, err, "unknown role")

	_, err = execute(t, "token", "--role", "ADMIN", "--user", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid --user")

	_, err = execute(t, "token", "--role", "DELIVERY", "--user", uuid.Nil.String())
	assert.ErrorContains(t, err, "nil uuid is reserved")

	t.Setenv("JWT_SECRET", "")
	_, err = execute(t, "token", "--role", "ADMIN", "--user", "")
	assert.ErrorContains(t, err, "JWT_SECRET")
}
