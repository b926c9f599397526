package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPreservesFields(t *testing.T) {
	t.Parallel()

	last := time.Date(2023, 4, 5, 6, 7, 8, 123456789, time.UTC)
	for _, st := range []Status{StatusPending, StatusFailed, StatusSkip, StatusDiscontinued} {
		in := New("CE02SHBP-LJ01D-06-CTDBPN106-streamed-ctdbp_no_sample", last, st)
		data, err := Marshal(in)
		require.NoError(t, err)

		out, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.True(t, out.LastRequest.Equal(last))
	}

	ready := New("t", last, StatusPending).WithOutcome(StatusSuccess, true)
	data, err := Marshal(ready)
	require.NoError(t, err)
	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ready, out)
}

func TestMarshalIsByteStable(t *testing.T) {
	t.Parallel()

	rec := New("t", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), StatusPending)
	first, err := Marshal(rec)
	require.NoError(t, err)
	second, err := Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "table_name: t\nlast_request: \"2023-01-01T00:00:00Z\"\nstatus: pending\ndata_ready: false\n", string(first))
}

func TestValidateRejectsDataReadyWithoutSuccess(t *testing.T) {
	t.Parallel()

	rec := New("t", time.Now(), StatusSkip)
	rec.DataReady = true
	_, err := Marshal(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_ready")
}

func TestUnmarshalAcceptsZonelessTimestamp(t *testing.T) {
	t.Parallel()

	doc := "data_ready: false\nlast_request: '2021-06-01T10:11:12.345678'\nstatus: pending\ntable_name: t\n"
	rec, err := Unmarshal([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 6, 1, 10, 11, 12, 345678000, time.UTC), rec.LastRequest)
}

func TestUnmarshalRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte("table_name: t\nlast_request: '2021-06-01T00:00:00Z'\nstatus: running\n"))
	assert.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.IsTerminal())
	for _, st := range []Status{StatusSuccess, StatusFailed, StatusSkip, StatusDiscontinued} {
		assert.True(t, st.IsTerminal(), st)
	}
	assert.True(t, StatusDiscontinued.IsAbsorbing())
	assert.False(t, StatusSkip.IsAbsorbing())
}
