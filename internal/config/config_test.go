package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4nk3nst1ner/offlineboard/internal/testutil"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OFFLINEBOARD_ORIGIN", "")
	os.Unsetenv("OFFLINEBOARD_ORIGIN")
	t.Setenv("OFFLINEBOARD_RELEASE", "")
	os.Unsetenv("OFFLINEBOARD_RELEASE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8000", cfg.Origin)
	assert.Equal(t, "v1.0.0", cfg.Release)
	assert.Equal(t, 4, cfg.InstallConcurrency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "relative origin", key: "OFFLINEBOARD_ORIGIN", val: "localhost"},
		{name: "blank release", key: "OFFLINEBOARD_RELEASE", val: "  "},
		{name: "zero concurrency", key: "OFFLINEBOARD_INSTALL_CONCURRENCY", val: "0"},
		{name: "not a number", key: "OFFLINEBOARD_HOT_CACHE_SIZE", val: "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestOriginURLDropsPath(t *testing.T) {
	u, err := Config{Origin: "https://jobs.example.com/board/"}.OriginURL()
	require.NoError(t, err)
	assert.Equal(t, "https://jobs.example.com", u.String())
}

func TestGenerations(t *testing.T) {
	g := GenerationsFor("v1.0.0")
	assert.Equal(t, "static-v1.0.0", g.Static)
	assert.Equal(t, "data-v1.0.0", g.Data)
	assert.True(t, g.Current("static-v1.0.0"))
	assert.True(t, g.Current("data-v1.0.0"))
	assert.False(t, g.Current("static-v0"))
}

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest(), m)
	assert.Contains(t, m.DataFiles, "/data/jobs.json")

	path := writeManifest(t, t.TempDir(), `
release: v2.0.0
static_files:
  - /
  - /app.js
`)
	m, err = LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", m.Release)
	assert.Equal(t, []string{"/", "/app.js"}, m.StaticFiles)
	// lists missing from the file keep their defaults
	assert.Equal(t, DefaultManifest().DataFiles, m.DataFiles)
	assert.Equal(t, DefaultManifest().CrossOriginHosts, m.CrossOriginHosts)
}

func TestLoadManifestErrors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read manifest")

	path := writeManifest(t, t.TempDir(), "static_files: [unterminated")
	_, err = LoadManifest(path)
	assert.ErrorContains(t, err, "parse manifest")
}

func TestNewSettings(t *testing.T) {
	cfg := Config{Origin: "http://localhost:8000", Release: "v1.0.0"}

	s, err := NewSettings(cfg, DefaultManifest())
	require.NoError(t, err)
	assert.Equal(t, "static-v1.0.0", s.Generations.Static)
	assert.Equal(t, "http://localhost:8000/", s.StaticURLs[0])
	assert.Contains(t, s.StaticURLs, "https://cdn.jsdelivr.net/npm/chart.js")
	assert.Equal(t, []string{"http://localhost:8000/data/jobs.json", "http://localhost:8000/data/statistics.json"}, s.DataURLs)

	m := DefaultManifest()
	m.Release = "v2.0.0"
	s, err = NewSettings(cfg, m)
	require.NoError(t, err)
	assert.Equal(t, "data-v2.0.0", s.Generations.Data)
}

func TestWatchReloadsManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "release: v1.0.0\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		release string
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, testutil.Logger(), func(m Manifest) {
			mu.Lock()
			release = m.Release
			mu.Unlock()
		})
	}()

	// rewrite until the watcher is up and sees a change
	assert.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte("release: v2.0.0\n"), 0o644))
		mu.Lock()
		defer mu.Unlock()
		return release == "v2.0.0"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
