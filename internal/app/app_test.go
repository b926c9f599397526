package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/app"
	"github.com/JakeFAU/ooi-harvest-request/internal/config"
	"github.com/JakeFAU/ooi-harvest-request/internal/state"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.State.Dir = t.TempDir()
	return cfg
}

func TestNewBuildsServices(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.GetProducer())
	require.NotNil(t, a.GetState())
	assert.NotNil(t, a.GetLogger())
	assert.Equal(t, state.DefaultPaths, a.GetState().Paths())

	_, err = a.GetProducer().LoadStatus(context.Background())
	assert.ErrorIs(t, err, state.ErrNoRequest)

	w, err := a.NewWatcher()
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestNewAPIServerWithoutLedger(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	srv := a.NewAPIServer("table")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileOpenerReadsLocalData(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "table"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "table", ".zmetadata"), []byte(`{}`), 0o600))

	openers := a.Openers()
	for _, scheme := range []string{"file", "s3", "gs", "gcs"} {
		assert.Contains(t, openers, scheme)
	}
	reader, err := openers["file"](context.Background(), dir, nil)
	require.NoError(t, err)
	data, err := reader.Get(context.Background(), "table/.zmetadata")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	_, err = openers["s3"](context.Background(), "ooi-data", map[string]any{"region": "us-west-2"})
	assert.NoError(t, err)
}

func TestNewRejectsUnusableStateDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	file := filepath.Join(cfg.State.Dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.State.Dir = file

	_, err := app.New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "init state storage")
}
