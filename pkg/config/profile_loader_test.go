package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "profile_sec_edgar.yaml", `
source: sec_edgar
requests_per_minute: 600
burst: 10
incremental: true
extra_params:
  forms: ["SC 13D", "SC 13G"]
`)

	p, err := LoadProfile(dir, "SEC_EDGAR")
	require.NoError(t, err)
	assert.Equal(t, "sec_edgar", p.Source)
	assert.Equal(t, 600.0, p.RequestsPerMinute)
	assert.Equal(t, 10, p.Burst)
	assert.True(t, p.Incremental)
	assert.Equal(t, []any{"SC 13D", "SC 13G"}, p.ExtraParams["forms"])
}

func TestLoadProfileRejectsSchemaViolations(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "profile_cra.yaml", `
source: cra
requests_per_minute: -5
`)

	_, err := LoadProfile(dir, "cra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate")

	writeProfile(t, dir, "profile_irs.yaml", `
source: irs
unknown_knob: true
`)
	_, err = LoadProfile(dir, "irs")
	require.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "profile_cra.yaml", "source: cra\nlimit: 100\n")
	writeProfile(t, dir, "profile_littlesis.yaml", "source: littlesis\nincremental: true\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, 100, profiles["cra"].Limit)
	assert.True(t, profiles["littlesis"].Incremental)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
}
