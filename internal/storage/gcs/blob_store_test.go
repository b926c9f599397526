package gcs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	harveststorage "github.com/JakeFAU/ooi-harvest-request/internal/storage"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	assert.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestGet(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/test-bucket/table/.zmetadata") {
			_, _ = w.Write([]byte(`{"metadata":{}}`))
			return
		}
		http.NotFound(w, r)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "test-bucket"})
	require.NoError(t, err)

	data, err := store.Get(context.Background(), "table/.zmetadata")
	require.NoError(t, err)
	assert.Equal(t, `{"metadata":{}}`, string(data))

	_, err = store.Get(context.Background(), "other/.zmetadata")
	require.Error(t, err)
	assert.True(t, errors.Is(err, harveststorage.ErrNotExist))

	_, err = store.Get(context.Background(), " ")
	assert.Error(t, err)
}
