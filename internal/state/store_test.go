package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/local"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/memory"
)

var requested = time.Date(2023, 5, 1, 12, 30, 45, 123456789, time.UTC)

func sampleResponse() harvest.RequestResponse {
	return harvest.RequestResponse{
		Stream:    &harvest.StreamDescriptor{TableName: "t", BeginTime: "2019-01-01T00:00:00"},
		Params:    &harvest.ParamsRecord{BeginDT: "2019-01-01T00:00:00Z", EndDT: "2019-02-01T00:00:00Z", Provenance: true},
		Estimated: harvest.Estimate{"requestUUID": "abc", "sizeCalculation": float64(5548)},
		Result: &harvest.ResponseResult{
			RequestUUID: "abc",
			StatusURL:   "https://opendap.example.org/async_results/u/r/status.txt",
			RequestDT:   harvest.FormatTime(requested),
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := memory.NewBlobStore()
	store := New(backend, Paths{}, nil)

	rs := status.New("t", requested, status.StatusPending)
	require.NoError(t, store.Save(ctx, sampleResponse(), rs))
	assert.Equal(t, 2, backend.Writes())

	gotStatus, gotResp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rs, gotStatus)
	assert.True(t, gotStatus.LastRequest.Equal(requested))
	assert.Equal(t, sampleResponse(), gotResp)

	raw, err := backend.Get(ctx, DefaultPaths.Status)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2023-05-01T12:30:45.123456789Z")
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := memory.NewBlobStore()
	store := New(backend, Paths{}, nil)

	_, _, err := store.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRequest))

	// Status alone is not enough.
	require.NoError(t, store.SaveStatus(ctx, status.New("t", requested, status.StatusPending)))
	_, _, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoRequest)
}

func TestSaveRejectsInvalidStatus(t *testing.T) {
	t.Parallel()

	backend := memory.NewBlobStore()
	store := New(backend, Paths{}, nil)

	bad := status.New("t", requested, status.StatusFailed).WithOutcome(status.StatusFailed, true)
	err := store.Save(context.Background(), sampleResponse(), bad)
	require.Error(t, err)
	assert.Zero(t, backend.Writes(), "nothing is written when the record is invalid")
}

func TestLoadRejectsCorruptDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := memory.NewBlobStore()
	store := New(backend, Paths{Response: "r.json", Status: "s.yaml"}, nil)

	require.NoError(t, backend.Put(ctx, "s.yaml", []byte("table_name: t\nlast_request: \"2023-01-01T00:00:00Z\"\nstatus: bogus\ndata_ready: false\n")))
	_, err := store.LoadStatus(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoRequest))

	require.NoError(t, backend.Put(ctx, "r.json", []byte("{not json")))
	_, err = store.LoadResponse(ctx)
	assert.ErrorContains(t, err, "decode r.json")
}

func TestOverwriteIsFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New(memory.NewBlobStore(), Paths{}, nil)
	require.NoError(t, store.Save(ctx, sampleResponse(), status.New("t", requested, status.StatusPending)))

	discontinued := harvest.RequestResponse{Message: "t not found in OOI Database."}
	require.NoError(t, store.Save(ctx, discontinued, status.New("t", requested, status.StatusDiscontinued)))

	_, resp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, resp.Result)
	assert.Equal(t, "t not found in OOI Database.", resp.Message)
}

func TestLocalBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	store := New(backend, Paths{}, nil)

	_, err = store.LoadStatus(ctx)
	require.ErrorIs(t, err, ErrNoRequest)

	rs := status.New("t", requested, status.StatusSuccess).WithOutcome(status.StatusSuccess, true)
	require.NoError(t, store.Save(ctx, sampleResponse(), rs))
	got, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, rs, got)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

var _ storage.Store = failingStore{}

func TestBackendErrors(t *testing.T) {
	t.Parallel()

	store := New(failingStore{}, Paths{}, nil)
	_, err := store.LoadStatus(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoRequest))

	err = store.Save(context.Background(), sampleResponse(), status.New("t", requested, status.StatusPending))
	assert.ErrorContains(t, err, "disk full")
}
