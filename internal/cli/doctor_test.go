package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoctorEnv struct {
	statErr    error
	statIsDir  bool
	getStatus  int
	getErr     error
	lastGetURL string
}

func (f *fakeDoctorEnv) Stat(name string) (os.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	return fakeFileInfo{isDir: f.statIsDir}, nil
}

func (f *fakeDoctorEnv) Get(ctx context.Context, url string) (*http.Response, error) {
	f.lastGetURL = url
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &http.Response{
		StatusCode: f.getStatus,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

type fakeFileInfo struct {
	os.FileInfo
	isDir bool
}

func (f fakeFileInfo) IsDir() bool { return f.isDir }

func writeDoctorConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestChecksAllPass(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080", "span_dir": "/tank/spans"}`)
	env := &fakeDoctorEnv{getStatus: http.StatusOK, statIsDir: true}

	results := runChecks(context.Background(), path, env)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "pass", r.Status, r.Name)
	}
	assert.Equal(t, "http://backend:8080", env.lastGetURL)
}

func TestChecksBrokenConfigIsCritical(t *testing.T) {
	path := writeDoctorConfig(t, "{broken")

	results := runChecks(context.Background(), path, &fakeDoctorEnv{})
	require.Len(t, results, 1)
	assert.Equal(t, "fail", results[0].Status)
	assert.True(t, results[0].IsCritical)
}

func TestChecksUnreachableBackend(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080"}`)
	env := &fakeDoctorEnv{getErr: context.DeadlineExceeded}

	results := runChecks(context.Background(), path, env)
	var backendResult *checkResult
	for i := range results {
		if results[i].Name == "backend" {
			backendResult = &results[i]
		}
	}
	require.NotNil(t, backendResult)
	assert.Equal(t, "fail", backendResult.Status)
	assert.True(t, backendResult.IsCritical)
}

func TestChecksUnauthorizedBackendWarns(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080"}`)
	env := &fakeDoctorEnv{getStatus: http.StatusUnauthorized}

	results := runChecks(context.Background(), path, env)
	var backendResult *checkResult
	for i := range results {
		if results[i].Name == "backend" {
			backendResult = &results[i]
		}
	}
	require.NotNil(t, backendResult)
	assert.Equal(t, "warn", backendResult.Status)
	assert.Contains(t, backendResult.Suggestion, "backend_token")
}

func TestChecksMissingSpanDir(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080", "span_dir": "/nope"}`)
	env := &fakeDoctorEnv{getStatus: http.StatusOK, statErr: os.ErrNotExist}

	results := runChecks(context.Background(), path, env)
	last := results[len(results)-1]
	assert.Equal(t, "span-dir", last.Name)
	assert.Equal(t, "fail", last.Status)
}

func TestChecksStreamReachable(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080", "stream_url": "ws://backend:8080/stream"}`)
	// A WebSocket endpoint answering a plain GET with 426 is alive.
	env := &fakeDoctorEnv{getStatus: http.StatusUpgradeRequired}

	results := runChecks(context.Background(), path, env)
	var streamResult *checkResult
	for i := range results {
		if results[i].Name == "stream" {
			streamResult = &results[i]
		}
	}
	require.NotNil(t, streamResult)
	assert.Equal(t, "pass", streamResult.Status)
	assert.Equal(t, "http://backend:8080/stream", env.lastGetURL)
}

func TestChecksUnreachableStream(t *testing.T) {
	path := writeDoctorConfig(t, `{"backend_url": "http://backend:8080", "stream_url": "wss://backend:8443/stream"}`)
	env := &fakeDoctorEnv{getErr: context.DeadlineExceeded}

	results := runChecks(context.Background(), path, env)
	var streamResult *checkResult
	for i := range results {
		if results[i].Name == "stream" {
			streamResult = &results[i]
		}
	}
	require.NotNil(t, streamResult)
	assert.Equal(t, "fail", streamResult.Status)
	assert.True(t, streamResult.IsCritical)
	assert.Contains(t, streamResult.Suggestion, "stream_url")
}

func TestStreamCheckURL(t *testing.T) {
	assert.Equal(t, "http://h/s", streamCheckURL("ws://h/s"))
	assert.Equal(t, "https://h/s", streamCheckURL("wss://h/s"))
	assert.Equal(t, "http://h/s", streamCheckURL("http://h/s"))
}
