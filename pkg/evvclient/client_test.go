package evvclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := New(url, append([]Option{WithToken("tok"), WithDeviceID("tablet-7")}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestClockIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/visits/v-1/clock-in", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "tablet-7", r.Header.Get("X-Device-ID"))

		var body ClockInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 30.2672, body.Location.Latitude)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"evv_record":{"id":"r-1","record_status":"PENDING","compliance_flags":[]},
			"time_entry":{"id":"e-1","entry_type":"CLOCK_IN","status":"VERIFIED"},
			"verification":{"validation_type":"WITHIN_BASE_RADIUS","within_geofence":true}}`))
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL).ClockIn(context.Background(), "v-1", ClockInRequest{
		Location: Location{Latitude: 30.2672, Longitude: -97.7431, AccuracyMeters: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.Record.ID)
	assert.Equal(t, "VERIFIED", res.TimeEntry.Status)
	assert.True(t, res.Verification.WithinGeofence)
}

func TestRejectionsAreAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/visits/dup/clock-in":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"conflict","error_description":"visit already clocked in"}`))
		case "/visits/busy/clock-in":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>upstream</html>`))
		}
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	_, err := c.ClockIn(context.Background(), "dup", ClockInRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "conflict", apiErr.Code)
	assert.Equal(t, "visit already clocked in", apiErr.Description)
	assert.False(t, apiErr.Retryable())
	assert.NotErrorIs(t, err, ErrOffline)

	_, err = c.ClockIn(context.Background(), "busy", ClockInRequest{})
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
	assert.NotErrorIs(t, err, ErrOffline, "a 503 came from the server")

	_, err = c.ClockOut(context.Background(), "other", ClockOutRequest{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad_gateway", apiErr.Code)
}

func TestTimeoutIsOffline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newClient(t, srv.URL, WithTimeout(50*time.Millisecond)).ClockIn(context.Background(), "v-1", ClockInRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestUnreachableServerIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).ClockOut(context.Background(), "v-1", ClockOutRequest{})
	assert.ErrorIs(t, err, ErrOffline)
}

func TestReconcile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/tablet-7/reconcile", r.URL.Path)
		_, _ = w.Write([]byte(`{"device_id":"tablet-7","results":[{"record_type":"task","record_id":"t-1","outcome":"created","attempts":1}],"summary":{"created":1}}`))
	}))
	defer srv.Close()

	report, err := newClient(t, srv.URL).Reconcile(context.Background(), []SyncRecord{{
		Type: "task", ID: "t-1", ModifiedAt: time.Now(), Fields: map[string]any{"completed": true},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary["created"])

	noDevice, err := New(srv.URL)
	require.NoError(t, err)
	_, err = noDevice.Reconcile(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}

func TestRecordDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evv-records/r-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"r-1","clock_in_time":"2026-03-02T14:02:00Z","clock_in_verification":{"latitude":30.2672},"integrity_verified":true}`))
	}))
	defer srv.Close()

	doc, err := newClient(t, srv.URL).RecordDocument(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02T14:02:00Z", doc["clock_in_time"])
	assert.Equal(t, map[string]any{"latitude": 30.2672}, doc["clock_in_verification"])
}
