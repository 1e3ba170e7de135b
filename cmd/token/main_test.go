package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecanvas/internal/auth"
	"freecanvas/internal/config"
)

func TestTokenCmd_IssuesVerifiableToken(t *testing.T) {
	cfg := &config.AppConfig{Auth: config.AuthConfig{JWTSecret: "s3cret", Issuer: "freecanvas", TokenTTL: time.Hour}}
	cmd := newTokenCmd(cfg)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--sub", "alice", "--ttl", "5m"})

	require.NoError(t, cmd.Execute())

	m, err := auth.NewManager("s3cret", "freecanvas", 0)
	require.NoError(t, err)
	claims, err := m.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	cmd := newTokenCmd(&config.AppConfig{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be set")
}

func TestTokenCmd_RejectsPositionalArgs(t *testing.T) {
	cfg := &config.AppConfig{Auth: config.AuthConfig{JWTSecret: "s3cret"}}
	cmd := newTokenCmd(cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"alice"})

	assert.Error(t, cmd.Execute())
}
