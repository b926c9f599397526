package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://OOINet.oceanobservatories.org/api/m2m", "ooinet.oceanobservatories.org"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInit(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, harvestOutcomesTotal)
	require.NotNil(t, harvestFetchTotal)
	require.NotNil(t, httpRequestsTotal)

	before := testutil.ToFloat64(harvestOutcomesTotal.WithLabelValues("check", "success"))
	ObserveOutcome("check", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(harvestOutcomesTotal.WithLabelValues("check", "success")))
}

func TestObserveFetch(t *testing.T) {
	Init()
	counter := harvestFetchTotal.WithLabelValues("opendap.oceanobservatories.org", "404")
	before := testutil.ToFloat64(counter)
	bytesBefore := testutil.ToFloat64(harvestFetchBytesTotal.WithLabelValues("opendap.oceanobservatories.org"))

	ObserveFetch("https://opendap.oceanobservatories.org/async_results/x/status.txt", 404, 12, 10*time.Millisecond)
	ObserveFetch("https://opendap.oceanobservatories.org/async_results/x/status.txt", 404, 0, 10*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
	assert.Equal(t, bytesBefore+12, testutil.ToFloat64(harvestFetchBytesTotal.WithLabelValues("opendap.oceanobservatories.org")))
}

func TestObserveElapsed(t *testing.T) {
	ObserveElapsed("table-a", 90*time.Minute)
	assert.Equal(t, float64(5400), testutil.ToFloat64(harvestRequestElapsedSeconds.WithLabelValues("table-a")))
}

func TestPusher(t *testing.T) {
	assert.Nil(t, NewPusher("", "job"))
	var nilPusher *Pusher
	require.NoError(t, nilPusher.Push(context.Background(), "t"))

	var gotPath, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ObserveOutcome("request", "pending")
	p := NewPusher(srv.URL, "")
	require.NoError(t, p.Push(context.Background(), "table-a"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/ooi_harvest_request/stream/table-a", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPusherReportsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	Init()
	err := NewPusher(srv.URL, "job").Push(context.Background(), "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "push metrics"))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://ooinet.oceanobservatories.org", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
