package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/config"
	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/producer"
	"github.com/JakeFAU/ooi-harvest-request/internal/state"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// MockApp mocks App.
type MockApp struct {
	mock.Mock
}

// Close satisfies App.
func (m *MockApp) Close() { m.Called() }

// GetLogger satisfies App.
func (m *MockApp) GetLogger() *zap.Logger { return zap.NewNop() }

// GetConfig satisfies App.
func (m *MockApp) GetConfig() config.Config { return config.Config{} }

// Run satisfies App.
func (m *MockApp) Run(ctx context.Context, cfg harvest.HarvestConfig, dataCheck bool) (producer.Outcome, error) {
	args := m.Called(ctx, cfg, dataCheck)
	return args.Get(0).(producer.Outcome), args.Error(1)
}

// LoadStatus satisfies App.
func (m *MockApp) LoadStatus(ctx context.Context) (status.RequestStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(status.RequestStatus), args.Error(1)
}

// Watch satisfies App.
func (m *MockApp) Watch(ctx context.Context, cfg harvest.HarvestConfig) (producer.Outcome, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(producer.Outcome), args.Error(1)
}

// Handler satisfies App.
func (m *MockApp) Handler(string) http.Handler { return http.NotFoundHandler() }

const harvestYAML = `
instrument: CE02SHBP-LJ01D-06-CTDBPN106
stream:
  method: streamed
  name: ctdbp_no_sample
harvest_options:
  refresh: false
  test: false
`

const table = "CE02SHBP-LJ01D-06-CTDBPN106-streamed-ctdbp_no_sample"

func withApp(t *testing.T, a App, err error) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return a, err }
	t.Cleanup(func() { newApp = orig })
}

func writeHarvestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(harvestYAML), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, *rootOptions, error) {
	t.Helper()
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), opts, err
}

func TestRootRequestMode(t *testing.T) {
	m := &MockApp{}
	withApp(t, m, nil)
	path := writeHarvestConfig(t)

	m.On("Run", mock.Anything, mock.MatchedBy(func(cfg harvest.HarvestConfig) bool {
		return cfg.TableName() == table && cfg.HarvestOptions.Refresh && !cfg.HarvestOptions.Test
	}), false).Return(producer.Outcome{Kind: producer.KindSubmitted, Message: "Data Request completed."}, nil).Once()

	out, opts, err := execute(t, "--harvest-config", path, "--refresh")
	require.NoError(t, err)
	assert.Equal(t, "Data Request completed.\n", out)
	assert.Same(t, m, opts.app)
	m.AssertExpectations(t)
}

func TestRootDataCheckMode(t *testing.T) {
	m := &MockApp{}
	withApp(t, m, nil)
	path := writeHarvestConfig(t)

	m.On("Run", mock.Anything, mock.Anything, true).
		Return(producer.Outcome{Kind: producer.KindPrecondition, Message: "Please request data first."}, nil).Once()

	out, _, err := execute(t, "--harvest-config", path, "--data-check", "--test")
	require.NoError(t, err)
	assert.Equal(t, "Please request data first.\n", out)
	m.AssertExpectations(t)
}

func TestRootPropagatesErrors(t *testing.T) {
	m := &MockApp{}
	withApp(t, m, nil)
	path := writeHarvestConfig(t)

	m.On("Run", mock.Anything, mock.Anything, true).Return(producer.Outcome{}, errors.New("status 500")).Once()
	_, _, err := execute(t, "--harvest-config", path, "--data-check")
	assert.EqualError(t, err, "status 500")

	_, _, err = execute(t, "--harvest-config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read harvest config")
}

func TestRootAppInitFailure(t *testing.T) {
	withApp(t, nil, errors.New("bad settings"))

	_, opts, err := execute(t)
	assert.ErrorContains(t, err, "failed to initialize application services")
	assert.Nil(t, opts.app)
}

func TestStatusCommand(t *testing.T) {
	m := &MockApp{}
	withApp(t, m, nil)

	rs := status.New(table, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), status.StatusPending)
	m.On("LoadStatus", mock.Anything).Return(rs, nil).Once()
	out, _, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "table_name: "+table)
	assert.Contains(t, out, "status: pending")

	m.On("LoadStatus", mock.Anything).Return(status.RequestStatus{}, state.ErrNoRequest).Once()
	out, _, err = execute(t, "status")
	require.NoError(t, err)
	assert.Equal(t, "Please request data first.\n", out)
}

func TestWatchCommand(t *testing.T) {
	m := &MockApp{}
	withApp(t, m, nil)
	path := writeHarvestConfig(t)

	m.On("Watch", mock.Anything, mock.Anything).
		Return(producer.Outcome{Kind: "completed", Message: "Data available for download"}, nil).Once()
	out, _, err := execute(t, "watch", "--harvest-config", path)
	require.NoError(t, err)
	assert.Equal(t, "Data available for download\n", out)

	m.On("Watch", mock.Anything, mock.Anything).Return(producer.Outcome{}, context.Canceled).Once()
	out, _, err = execute(t, "watch", "--harvest-config", path)
	require.NoError(t, err)
	assert.Empty(t, out)
}
