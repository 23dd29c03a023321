package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merge-branch-storage/internal/domain"
)

// capturedRequest holds details captured from an incoming HTTP request.
type capturedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    string
}

// fakeAPI is a Storage API stand-in routing on "METHOD path".
type fakeAPI struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []capturedRequest
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header.Clone(),
			Body:    string(body),
		})
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeAPI) on(method, path string, status int, body string) {
	f.routes[method+" "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeAPI) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

// isolate clears the environment the CLI reads and points HOME at a temp dir.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{
		"KBC_DATADIR", "KBC_URL", "KBC_TOKEN", "KBC_BRANCHID", "KBC_CONFIGID",
		"KBC_CONFIGROWID", "KBC_RUNID", "KBC_COMPONENTID", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func writeDataDir(t *testing.T, configJSON string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0o600))
	return dir
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

const rowPath = "/v2/storage/branch/9/components/keboola.app-merge-branch-storage/configs/123/rows"

func TestRun_DropTableDisablesRow(t *testing.T) {
	isolate(t)
	t.Setenv("KBC_CONFIGROWID", "7")
	t.Setenv("KBC_RUNID", "run-42")

	api, url := newFakeAPI(t)
	api.on(http.MethodDelete, "/v2/storage/branch/9/tables/in.c-a.t", http.StatusNoContent, ``)
	api.on(http.MethodPut, rowPath+"/7", http.StatusOK, `{"id":"7","isDisabled":true}`)

	dir := writeDataDir(t, `{"configId":"123","parameters":{"action":"DROP_TABLE","values":["in.c-a.t"]}}`)
	res := runCLI(t, "run", "--data-dir", dir, "--url", url, "--token", "secret", "--branch-id", "9", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{
		"DELETE /v2/storage/branch/9/tables/in.c-a.t",
		"PUT " + rowPath + "/7",
	}, api.paths())

	first := api.requests[0]
	assert.Equal(t, "secret", first.Headers.Get("X-StorageApi-Token"))
	assert.Equal(t, "run-42", first.Headers.Get("X-KBC-RunId"))
	assert.Equal(t, "force=1", first.Query)
	assert.Contains(t, api.requests[1].Body, "isDisabled=true")
	assert.Contains(t, res.stderr, `"message":"run finished"`)
	assert.Contains(t, res.stderr, `"branch_id":"9"`)
}

func TestRun_ModeFromConfigFile(t *testing.T) {
	isolate(t)

	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/components/keboola.app-merge-branch-storage/configs/55/rows", http.StatusOK, `[]`)

	dir := writeDataDir(t, `{"action":"synchronize_resources","configId":"55"}`)
	res := runCLI(t, "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"status":"success","message":"Synchronized"}`, res.stdout)
}

func TestRun_MissingResourceIDIsUserError(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)

	dir := writeDataDir(t, `{"parameters":{"action":"ADD_COLUMN","rawResourceJson":["col4"]}}`)
	res := runCLI(t, "run", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, "Missing resourceId.")
	assert.Empty(t, api.paths())
}

func TestRun_UnknownActionIsInternal(t *testing.T) {
	isolate(t)
	_, url := newFakeAPI(t)

	dir := writeDataDir(t, `{"parameters":{"action":"RENAME_BUCKET"}}`)
	res := runCLI(t, "run", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	assert.Equal(t, ExitInternal, res.code)
}

func TestRun_BackendFailureIsUserError(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodDelete, "/v2/storage/tables/in.c-a.t/primary-key", http.StatusInternalServerError, `{"error":"Backend exploded"}`)

	dir := writeDataDir(t, `{"parameters":{"action":"DROP_PRIMARY_KEY","values":["in.c-a.t"]}}`)
	res := runCLI(t, "run", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, "Backend exploded")
}

func TestRun_DryRunSkipsRequests(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)

	dir := writeDataDir(t, `{"parameters":{"action":"DROP_BUCKET","values":["in.c-a"]}}`)
	res := runCLI(t, "run", "--dry-run", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Empty(t, api.paths())
}

func TestRun_MissingConfigFile(t *testing.T) {
	isolate(t)
	res := runCLI(t, "run", "--data-dir", t.TempDir(), "--url", "http://127.0.0.1:1", "--token", "t")
	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, "not found")
}

func TestRun_MissingTokenIsUserError(t *testing.T) {
	isolate(t)
	dir := writeDataDir(t, `{"parameters":{"action":"DROP_TABLE","values":["in.c-a.t"]}}`)
	res := runCLI(t, "run", "--data-dir", dir, "--url", "http://127.0.0.1:1")
	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, "token")
}

func TestRun_WritesMetricsFile(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodDelete, "/v2/storage/tables/in.c-a.t", http.StatusNoContent, ``)

	dir := writeDataDir(t, `{"parameters":{"action":"DROP_TABLE","values":["in.c-a.t"]}}`)
	metricsPath := filepath.Join(t.TempDir(), "run.prom")
	res := runCLI(t, "run", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json", "--metrics-file", metricsPath)
	require.Equal(t, ExitOK, res.code, res.stderr)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `merge_branch_storage_runs_total{mode="run",result="success"} 1`)
	assert.Contains(t, text, `merge_branch_storage_items_total{action="DROP_TABLE",outcome="applied"} 1`)
	assert.Contains(t, text, `merge_branch_storage_api_requests_total{method="DELETE",status="204"} 1`)
}

func TestSynchronize_UpdatesRows(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/components/keboola.app-merge-branch-storage/configs/123/rows", http.StatusOK,
		`[{"id":"1","name":"Drop","isDisabled":false,"configuration":{"parameters":{"action":"DROP_TABLE","values":["in.c-a.t"]}}}]`)
	api.on(http.MethodPut, "/v2/storage/components/keboola.app-merge-branch-storage/configs/123/rows/1", http.StatusOK, `{"id":"1"}`)

	dir := writeDataDir(t, `{}`)
	res := runCLI(t, "synchronize", "--config-id", "123", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"status":"success","message":"Synchronized"}`, res.stdout)
	require.Len(t, api.requests, 2)
	assert.Contains(t, api.requests[1].Body, "changeDescription=Synchronize+resources")
}

func TestSynchronize_ErrorStatus(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/components/keboola.app-merge-branch-storage/configs/123/rows", http.StatusInternalServerError, `{"error":"boom"}`)

	dir := writeDataDir(t, `{"configId":"123"}`)
	res := runCLI(t, "synchronize", "--data-dir", dir, "--url", url, "--token", "t", "--log-format", "json")

	assert.Equal(t, ExitUser, res.code)
	var status syncStatus
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "Failed listing config rows of configuration 123 with error message: boom.", status.Message)
}

func TestSynchronize_RequiresConfigID(t *testing.T) {
	isolate(t)
	dir := writeDataDir(t, `{}`)
	res := runCLI(t, "synchronize", "--data-dir", dir, "--url", "http://127.0.0.1:1", "--token", "t")

	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stdout, `"status": "error"`)
	assert.Contains(t, res.stdout, "configId")
}

func TestResources_BucketsJSON(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/buckets", http.StatusOK,
		`[{"id":"in.c-a","name":"c-a","stage":"in","backend":"snowflake","displayName":"a","created":"2024-01-01"}]`)

	res := runCLI(t, "resources", "buckets", "--url", url, "--token", "t", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.JSONEq(t, `[{"id":"in.c-a","name":"c-a","stage":"in","backend":"snowflake","displayName":"a","created":"2024-01-01"}]`, res.stdout)
}

func TestResources_TablesTable(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/buckets/in.c-a/tables", http.StatusOK,
		`[{"id":"in.c-a.t","name":"t","isTyped":true,"primaryKey":["id","day"]}]`)

	res := runCLI(t, "resources", "tables", "in.c-a", "-o", "table", "--url", url, "--token", "t", "--log-format", "json")

	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "PRIMARY KEY")
	assert.Contains(t, res.stdout, "in.c-a.t")
	assert.Contains(t, res.stdout, "id,day")
}

func TestResources_TablesNeedsBucket(t *testing.T) {
	isolate(t)
	res := runCLI(t, "resources", "tables", "--url", "http://127.0.0.1:1", "--token", "t")
	assert.Equal(t, ExitUser, res.code)
}

func TestResources_BackendErrorIsUserError(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/buckets", http.StatusUnauthorized, `{"error":"Invalid access token"}`)

	res := runCLI(t, "resources", "buckets", "--url", url, "--token", "bad", "--log-format", "json")
	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, "Invalid access token")
}

func TestPrecedence_FlagEnvProfile(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/buckets", http.StatusOK, `[]`)

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {URL: "http://127.0.0.1:1", Token: "from-profile"},
		},
	}))

	// Profile token, env URL.
	t.Setenv("KBC_URL", url)
	res := runCLI(t, "resources", "buckets", "--log-format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "from-profile", api.requests[0].Headers.Get("X-StorageApi-Token"))

	// Env beats profile, flag beats env.
	t.Setenv("KBC_TOKEN", "from-env")
	res = runCLI(t, "resources", "buckets", "--log-format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "from-env", api.requests[1].Headers.Get("X-StorageApi-Token"))

	res = runCLI(t, "resources", "buckets", "--token", "from-flag", "--log-format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "from-flag", api.requests[2].Headers.Get("X-StorageApi-Token"))
}

func TestUnknownProfileIsUserError(t *testing.T) {
	isolate(t)
	res := runCLI(t, "resources", "buckets", "--profile", "missing")
	assert.Equal(t, ExitUser, res.code)
	assert.Contains(t, res.stderr, `profile "missing" not found`)
}

func TestUnknownFlagIsUserError(t *testing.T) {
	isolate(t)
	res := runCLI(t, "run", "--no-such-flag")
	assert.Equal(t, ExitUser, res.code)
}

func TestVersion(t *testing.T) {
	isolate(t)
	res := runCLI(t, "version", "-o", "table")
	require.Equal(t, ExitOK, res.code)
	assert.Equal(t, "merge-branch-storage version dev (commit: none)\n", res.stdout)

	res = runCLI(t, "version")
	require.Equal(t, ExitOK, res.code)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, res.stdout)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitUser, exitCode(domain.ErrUser("bad input")))
	assert.Equal(t, ExitInternal, exitCode(errors.New("boom")))
	assert.Equal(t, ExitInternal, exitCode(domain.ErrUnknownAction))
}

func TestFlagNamesAcceptUnderscores(t *testing.T) {
	isolate(t)
	api, url := newFakeAPI(t)
	api.on(http.MethodGet, "/v2/storage/branch/3/buckets", http.StatusOK, `[]`)

	res := runCLI(t, "resources", "buckets", "--url", url, "--token", "t", "--branch_id", "3", "--log_format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{"GET /v2/storage/branch/3/buckets"}, api.paths())
}
