package cli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
)

func TestRootCommandTree(t *testing.T) {
	cmd := NewRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "install", "activate", "sync", "status"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("manifest"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("silence"))
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs(append([]string{"--silence"}, args...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestInstallThenActivateNewRelease(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "<html>board</html>")
		case "/data/jobs.json":
			io.WriteString(w, `[{"id":1,"company":"Acme"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("static_files: [\"/\"]\ndata_files: [\"/data/jobs.json\"]\n"), 0o644))
	cachePath := filepath.Join(dir, "cache.sqlite3")

	t.Setenv("OFFLINEBOARD_ORIGIN", upstream.URL)
	t.Setenv("OFFLINEBOARD_CACHE_PATH", cachePath)
	t.Setenv("OFFLINEBOARD_LOG_LEVEL", "error")
	t.Setenv("OFFLINEBOARD_RELEASE", "v1")

	require.NoError(t, run(t, "--manifest", manifest, "install"))
	require.NoError(t, run(t, "--manifest", manifest, "status"))

	t.Setenv("OFFLINEBOARD_RELEASE", "v2")
	require.NoError(t, run(t, "--manifest", manifest, "install"))
	require.NoError(t, run(t, "--manifest", manifest, "activate"))

	storage, err := cachestore.NewSQLiteStorage(context.Background(), cachePath, 0)
	require.NoError(t, err)
	defer storage.Close()
	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v2", "data-v2"}, names)
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Setenv("OFFLINEBOARD_ORIGIN", "not-a-url")
	t.Setenv("OFFLINEBOARD_CACHE_PATH", filepath.Join(t.TempDir(), "cache.sqlite3"))
	assert.Error(t, run(t, "activate"))
}
