package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/apiterr"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "apitap", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCodeError, getExitCode(errors.New("boom")))
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(&apiterr.AuthRequiredError{
		Domain:     "shop.example.com",
		Suggestion: "run 'apitap auth shop.example.com'",
	}))
}

func TestVersionCommandOutput(t *testing.T) {
	SetVersion("9.9.9")
	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	assert.Equal(t, "apitap version 9.9.9\n", buf.String())
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"id=42", "sort=name=asc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": "42", "sort": "name=asc"}, params)

	_, err = parseParams([]string{"no-equals"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "name=value"))
}

func TestPathMatches(t *testing.T) {
	assert.True(t, pathMatches("/items/:id", "/items/42"))
	assert.True(t, pathMatches("/items", "/items/"))
	assert.False(t, pathMatches("/items/:id", "/items"))
	assert.False(t, pathMatches("/items/:id", "/orders/42"))
}

func TestCommandsRegistered(t *testing.T) {
	expected := []string{
		"capture", "discover", "list", "show", "search", "replay",
		"import", "refresh", "auth", "serve", "browse", "peek",
		"read", "inspect", "stats", "version",
	}
	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "command %s not registered", name)
	}
}
