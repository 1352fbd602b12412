package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
project: heroic-muse-88515
namespace: blog
bucket: heroic-muse-88515.appspot.com
host: https://example.org/
admins:
  - Admin@Example.org
smtp:
  host: smtp.example.org
  from: site@example.org
  to: me@example.org
verify_interval: 5m
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "heroic-muse-88515", cfg.Project)
	assert.Equal(t, DEFAULT_DATABASE, cfg.Database)
	assert.Equal(t, "blog", cfg.Namespace)
	assert.Equal(t, "https://example.org", cfg.Host)
	assert.Equal(t, "example.org", cfg.Hostname())
	assert.Equal(t, DEFAULT_ADDR, cfg.Addr)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.VerifyInterval)
	assert.True(t, cfg.SMTP.Configured())
	assert.True(t, cfg.IsAdminEmail("admin@example.org"))
	assert.False(t, cfg.IsAdminEmail("someone@example.org"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GAMESITE_NAMESPACE", "test")
	t.Setenv("GAMESITE_ADMINS", "a@example.org, b@example.org,")
	t.Setenv("GAMESITE_SMTP_PORT", "2525")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Namespace)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, cfg.Admins)
	assert.Equal(t, 2525, cfg.SMTP.Port)
}

func TestLoad_VerifyInterval(t *testing.T) {
	base := "project: p\nhost: https://example.org\n"

	cfg, err := Load(writeConfig(t, base))
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_VERIFY_INTERVAL, cfg.VerifyInterval)

	cfg, err = Load(writeConfig(t, base+"verify_interval: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.VerifyInterval)

	t.Setenv("GAMESITE_VERIFY_INTERVAL", "0s")
	cfg, err = Load(writeConfig(t, base+"verify_interval: 5m\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.VerifyInterval)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("GAMESITE_SMTP_PORT", "lots")
	_, err := Load(writeConfig(t, sampleYAML))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(os.TempDir(), "does-not-exist", "env.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name  string
		cfg   Config
		valid bool
	}{
		{"ok", Config{Project: "p", Host: "https://example.org"}, true},
		{"localhost http", Config{Project: "p", Host: "http://localhost:8080"}, true},
		{"no project", Config{Host: "https://example.org"}, false},
		{"no host", Config{Project: "p"}, false},
		{"plain http", Config{Project: "p", Host: "http://example.org"}, false},
		{"negative interval", Config{Project: "p", Host: "https://example.org", VerifyInterval: -time.Second}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
