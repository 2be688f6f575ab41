package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brayns/brayns_server/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("BRAYNS_AUTH_JWT_SECRET", "secret")
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"token", "viewer-1", "--name", "Viewer", "--config", filepath.Join(t.TempDir(), "none.yaml")})

	require.NoError(t, cmd.Execute())

	claims, err := auth.NewService(auth.Config{JWTSecret: "secret"}).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "viewer-1", claims.Subject)
	assert.Equal(t, "Viewer", claims.Name)
	assert.Contains(t, errOut.String(), "expires at")
}

func TestTokenCommand_AuthDisabled(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "viewer-1", "--config", filepath.Join(t.TempDir(), "none.yaml")})

	assert.Error(t, cmd.Execute())
}
