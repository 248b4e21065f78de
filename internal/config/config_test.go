package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, validate(Default()))
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{
		// trailing comments are fine, this is jsonc
		"lease_length": "45s",
		"listen_addr": ":9090",
	}`), 0o600))

	cfg, sources, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, Duration(45*time.Second), cfg.LeaseLength)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "coord/", cfg.MultiplexPrefix) // untouched default
	assert.Equal(t, filepath.Join(dir, ConfigFileName), sources.Project)
}

func TestLoadExplicitConfigMustExist(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir, "missing.jsonc")
	require.Error(t, err)
}

func TestLoadRejectsInvalidStorageBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"storage_backend": "redis"}`), 0o600))

	_, _, err := Load(dir, "")
	require.Error(t, err)
}

func TestLoadRequiresStoragePathForBadger(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"storage_backend": "badger"}`), 0o600))

	_, _, err := Load(dir, "")
	require.ErrorIs(t, err, errStoragePathMissing)
}

func TestFlagsApplyOverridesOnlySetFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--listen-addr=:8080"}))

	cfg, err := f.Apply(Default())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "coord/", cfg.MultiplexPrefix)
}

func TestPeerBaseURLLongestPrefixWins(t *testing.T) {
	cfg := Config{PeerDirectory: map[string]string{
		"coord/":   "http://default",
		"coord/eu": "http://eu",
	}}
	base, ok := PeerBaseURL(cfg, "coord/eu-west-1")
	require.True(t, ok)
	assert.Equal(t, "http://eu", base)

	base, ok = PeerBaseURL(cfg, "coord/us-east-1")
	require.True(t, ok)
	assert.Equal(t, "http://default", base)

	_, ok = PeerBaseURL(cfg, "other/")
	assert.False(t, ok)
}
