package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "socialhub", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	format := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, format)
	assert.Equal(t, "json", format.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"serve"},
		{"migrate"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"migrate", "force"},
		{"migrate", "drop"},
	}

	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestServeFlags(t *testing.T) {
	cmd, _, err := NewRootCommand().Find([]string{"serve"})
	require.NoError(t, err)
	for _, name := range []string{"addr", "relay-addr", "shutdown-timeout"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func sqliteEnv(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_NAME", filepath.Join(t.TempDir(), "hub"))
}

func TestRoot_RejectsLogFormat(t *testing.T) {
	sqliteEnv(t)
	_, err := run(t, "", "--log-format", "xml", "migrate", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestMigrate_UpDownVersion(t *testing.T) {
	sqliteEnv(t)

	out, err := run(t, "", "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 0  dirty: false\n", out)

	_, err = run(t, "", "--log-format", "text", "migrate", "up")
	require.NoError(t, err)

	out, err = run(t, "", "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 1  dirty: false\n", out)

	// Already current is not an error.
	_, err = run(t, "", "migrate", "up")
	require.NoError(t, err)

	_, err = run(t, "", "migrate", "down", "1")
	require.NoError(t, err)

	out, err = run(t, "", "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 0  dirty: false\n", out)
}

func TestMigrate_ArgumentErrors(t *testing.T) {
	sqliteEnv(t)

	_, err := run(t, "", "migrate", "down", "zero")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid steps")

	_, err = run(t, "", "migrate", "force", "v2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")

	_, err = run(t, "", "migrate", "version", "extra")
	require.Error(t, err)
}

func TestMigrate_DropNeedsConfirmation(t *testing.T) {
	sqliteEnv(t)

	_, err := run(t, "", "migrate", "up")
	require.NoError(t, err)

	_, err = run(t, "no\n", "migrate", "drop")
	require.ErrorIs(t, err, errAborted)

	out, err := run(t, "", "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 1  dirty: false\n", out)

	_, err = run(t, "yes\n", "migrate", "drop")
	require.NoError(t, err)
}

func TestBuild_ServesAPI(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("TOKEN_SECRET", "cli-test-secret")
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("REDIS_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	app, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.NotNil(t, app.Relay)

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/developer")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Version, body["version"])
	assert.Contains(t, body["routes"], "/post")
	assert.Contains(t, body["routes"], "/upload")
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	// Auto-migrated schema is queryable.
	resp, err = http.Get(srv.URL + "/post")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metricsText, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `socialhub_db_queries_total{success="true",verb="SELECT"}`)
}

func TestBuild_RateLimitDisabled(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("TOKEN_SECRET", "cli-test-secret")
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("RATE_LIMIT_RPS", "0")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	app, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/developer", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuild_BadCatalogFails(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("TOKEN_SECRET", "cli-test-secret")
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("CATALOG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalog")
}
