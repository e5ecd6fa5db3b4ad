package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, outputDir string) string {
	t.Helper()
	body := fmt.Sprintf(`storage:
  output_dir: %q
crawler:
  respect_robots: false
headless:
  enabled: false
fallback:
  settle: 0s
  scroll_count: 0
  warmup_limit: 0
logging:
  development: false
  level: error
`, outputDir)
	path := filepath.Join(t.TempDir(), "pagemark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guide":
			fmt.Fprint(w, `<html><head><title>Field Guide</title></head><body><h2>Birds</h2><p>Robins sing.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlCommand_SavesAndArchives(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	outDir := t.TempDir()

	out, err := execute(t, "--config", writeConfig(t, outDir), "crawl", srv.URL+"/guide", "--data-type", "headings-only", "--archive")
	require.NoError(t, err)
	assert.Contains(t, out, `"filename": "Field_Guide.md"`)
	assert.Contains(t, out, ".zip")

	doc, err := os.ReadFile(filepath.Join(outDir, "Field_Guide.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "## Birds")
	assert.NotContains(t, string(doc), "Robins")

	matches, err := filepath.Glob(filepath.Join(outDir, "bulk_download_*.zip"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCrawlCommand_NothingSaved(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)

	out, err := execute(t, "--config", writeConfig(t, t.TempDir()), "crawl", srv.URL+"/missing")
	require.ErrorIs(t, err, errNothingSaved)
	assert.Contains(t, out, "No URLs were successfully crawled")
}

func TestCrawlCommand_RejectsUnknownDataType(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", writeConfig(t, t.TempDir()), "crawl", "https://example.com", "--data-type", "images")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data type")
}

func TestCrawlCommand_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", writeConfig(t, t.TempDir()), "crawl")
	require.Error(t, err)
}

func TestCleanupCommand(t *testing.T) {
	t.Parallel()
	outDir := t.TempDir()
	oldFile := filepath.Join(outDir, "old.md")
	newFile := filepath.Join(outDir, "new.md")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o600))
	require.NoError(t, os.WriteFile(newFile, []byte("new"), 0o600))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	out, err := execute(t, "--config", writeConfig(t, outDir), "cleanup", "--max-age", "24h")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "removed 1 files"))

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}

func TestRootCommand_BadConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "cleanup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestResolveRuntime_Missing(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(context.Background())
	require.EqualError(t, err, "application services not initialized")
}
