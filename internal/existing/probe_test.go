package existing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/memory"
)

const zmetadata = `{
  "metadata": {
    ".zattrs": {"time_coverage_start": "2019-01-01T00:00:00", "time_coverage_end": "2021-03-04T05:06:07.5"},
    ".zgroup": {"zarr_format": 2}
  },
  "zarr_consolidated_format": 1
}`

func memoryOpener(store *memory.BlobStore, gotBucket *string) Opener {
	return func(_ context.Context, bucket string, _ map[string]any) (storage.Reader, error) {
		*gotBucket = bucket
		return store, nil
	}
}

func TestLastTimeFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewBlobStore()
	require.NoError(t, store.Put(ctx, "zarr/table-a/.zmetadata", []byte(zmetadata)))

	var bucket string
	probe := NewProbe(map[string]Opener{"s3": memoryOpener(store, &bucket)}, zap.NewNop())
	last, ok, err := probe.LastTime(ctx, "s3://ooi-data/zarr", "table-a", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ooi-data", bucket)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 500000000, time.UTC), last)
}

func TestLastTimeMissingDataset(t *testing.T) {
	t.Parallel()

	var bucket string
	probe := NewProbe(map[string]Opener{"s3": memoryOpener(memory.NewBlobStore(), &bucket)}, nil)
	_, ok, err := probe.LastTime(context.Background(), "s3://ooi-data", "table-a", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastTimeErrors(t *testing.T) {
	t.Parallel()

	probe := NewProbe(map[string]Opener{
		"gs": func(context.Context, string, map[string]any) (storage.Reader, error) {
			return nil, errors.New("no credentials")
		},
	}, nil)

	_, _, err := probe.LastTime(context.Background(), "az://container", "t", nil)
	assert.ErrorContains(t, err, "unsupported storage scheme")

	_, _, err = probe.LastTime(context.Background(), "gs://bucket", "t", nil)
	assert.ErrorContains(t, err, "no credentials")
}

func TestCoverageEnd(t *testing.T) {
	t.Parallel()

	_, ok, err := CoverageEnd([]byte(`{"metadata":{".zgroup":{}}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = CoverageEnd([]byte(`{"metadata":{".zattrs":{"title":"x"}}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = CoverageEnd([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = CoverageEnd([]byte(`{"metadata":{".zattrs":{"time_coverage_end":"soon"}}}`))
	assert.Error(t, err)
}
