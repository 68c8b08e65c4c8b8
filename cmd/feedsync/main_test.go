package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test Feed</title>
<item><guid>g1</guid><title>First</title><pubDate>Wed, 01 Jan 2025 12:00:00 GMT</pubDate></item>
<item><guid>g2</guid><title>Second</title><pubDate>Thu, 02 Jan 2025 12:00:00 GMT</pubDate></item>
</channel></rss>`

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

// testEnv points the CLI at an isolated config dir, a feeds.yaml listing
// feedURL and a temporary database. It returns the global flags to pass.
func testEnv(t *testing.T, feedURL string) []string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("FEEDSYNC_FEED_ALLOW_LOCAL", "true")
	t.Setenv("FEEDSYNC_FEED_HOST_INTERVAL", "0s")

	feeds := filepath.Join(dir, "feeds.yaml")
	require.NoError(t, os.WriteFile(feeds, []byte(fmt.Sprintf("%s:\n  category: Testing\n", feedURL)), 0o644))

	return []string{"--feeds", feeds, "--db", filepath.Join(dir, "data", "feeds.db"), "--log-level", "off"}
}

func newFeedServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCommand(t *testing.T) {
	out, _, code := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "feedsync dev")
	assert.Contains(t, out, "github.com/pders01/feedsync")
}

func TestGenerateConfigCommand(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	configFile := filepath.Join(tmpDir, "feedsync", "config.toml")

	out, stderr, code := runCLI(t, "generate-config")
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, configFile)
	assert.Contains(t, out, "Generated default configuration at:")

	explicit := filepath.Join(tmpDir, "other.toml")
	_, _, code = runCLI(t, "generate-config", explicit)
	require.Equal(t, 0, code)
	assert.FileExists(t, explicit)
}

func TestSyncAndReadFlow(t *testing.T) {
	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			srv := newFeedServer(t)
			feedURL := srv.URL + "/feed.xml"
			flags := append(testEnv(t, feedURL), "--backend", backend)
			cli := func(args ...string) (string, string, int) {
				return runCLI(t, append(append([]string{}, flags...), args...)...)
			}

			out, stderr, code := cli("sync")
			require.Equal(t, 0, code, stderr)
			assert.Contains(t, out, "1 updated")
			assert.Contains(t, out, "2 new entries")
			assert.Contains(t, out, "Testing")
			assert.Contains(t, out, "Test Feed")

			out, _, code = cli("sync")
			require.Equal(t, 0, code)
			assert.Contains(t, out, "1 unchanged")

			out, _, code = cli("entries", feedURL)
			require.Equal(t, 0, code)
			assert.Contains(t, out, "* 2025-01-02")
			assert.Contains(t, out, "g1")

			out, stderr, code = cli("read", feedURL, "g1")
			require.Equal(t, 0, code, stderr)
			assert.Contains(t, out, "marked g1 read")

			out, _, code = cli("entries", "--unread", feedURL)
			require.Equal(t, 0, code)
			assert.NotContains(t, out, "g1")
			assert.Contains(t, out, "g2")

			out, _, code = cli("read", "--all")
			require.Equal(t, 0, code)
			assert.Contains(t, out, "marked 1 entries read")

			out, stderr, code = cli("refresh", "--force", feedURL)
			require.Equal(t, 0, code, stderr)
			assert.Contains(t, out, "content, 0 new entries")

			out, _, code = cli("reset-icon", feedURL)
			require.Equal(t, 0, code)
			assert.Contains(t, out, "next sync")
		})
	}
}

func TestCommandErrors(t *testing.T) {
	srv := newFeedServer(t)
	flags := testEnv(t, srv.URL+"/feed.xml")
	cli := func(args ...string) (string, int) {
		_, stderr, code := runCLI(t, append(append([]string{}, flags...), args...)...)
		return stderr, code
	}

	stderr, code := cli("refresh", "http://127.0.0.1:1/unknown.xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "feed is not configured")

	stderr, code = cli("reset-icon", srv.URL+"/feed.xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "has not been synced yet")

	_, code = cli("read")
	assert.Equal(t, 1, code)

	_, code = cli("read", "--all", srv.URL+"/feed.xml")
	assert.Equal(t, 1, code)

	stderr, code = cli("--backend", "postgres", "feeds")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "database.backend")
}

func TestFeedsMarksFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	flags := testEnv(t, srv.URL+"/down.xml")

	out, stderr, code := runCLI(t, append(flags, "sync")...)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "!")
	assert.Contains(t, out, srv.URL+"/down.xml")
}
