package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.Len(), 4)

	d, ok := c.Get("data-quality")
	require.True(t, ok)
	assert.Equal(t, "Data Quality Audit", d.Name)
	assert.Contains(t, d.Tags, "quality")
	assert.Equal(t, 120, d.TimeoutSeconds)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)
}

func TestListOrdered(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	list := c.List()
	require.Equal(t, c.Len(), len(list))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID, "list must be ordered by id")
	}
}

func TestWithTag(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	local := c.WithTag("local")
	require.NotEmpty(t, local)
	for _, d := range local {
		assert.Contains(t, d.Tags, "local")
	}

	assert.Empty(t, c.WithTag("no-such-tag"))
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	content := `
[agents.custom-agent]
name = "Custom Agent"
description = "From an override file."
tags = ["custom"]
timeout_seconds = 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	d, ok := c.Get("custom-agent")
	require.True(t, ok)
	assert.Equal(t, "Custom Agent", d.Name)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "no agents defined"},
		{"unknown key", "[agents.a]\nname = \"A\"\nbogus = true\n", "unknown key"},
		{"missing name", "[agents.a]\ndescription = \"x\"\n", "name is required"},
		{"bad agent id", "[agents.\"bad id\"]\nname = \"A\"\n", "invalid character"},
		{"negative timeout", "[agents.a]\nname = \"A\"\ntimeout_seconds = -1\n", "must not be negative"},
		{"malformed toml", "[agents.a\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read")
}
