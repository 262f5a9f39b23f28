package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "evv/internal/jwt_token"
	"evv/internal/platform/config"
	"evv/internal/platform/logger"
	id "evv/pkg/domain"
	"evv/pkg/requestcontext"
	"evv/pkg/testutil"
)

const (
	seedVisitID     = "7d1c1a6e-3f2b-4a53-9d1e-0c8f1a2b3c4d"
	seedCaregiverID = "66666666-7777-4888-9999-000000000000"
)

const seed = `{
  "visits": [{
    "id": "` + seedVisitID + `",
    "service_type_code": "T1019",
    "service_type_name": "Personal Care",
    "client_id": "11111111-2222-4333-8444-555555555555",
    "assigned_caregiver_id": "` + seedCaregiverID + `",
    "service_date": "2026-03-02",
    "service_address": {"line1": "100 Congress Ave", "city": "Austin", "state": "TX", "postal_code": "78701", "latitude": 30.2672, "longitude": -97.7431},
    "scheduled_start": "2026-03-02T14:00:00Z",
    "scheduled_end": "2026-03-02T16:00:00Z"
  }],
  "clients": [{"id": "11111111-2222-4333-8444-555555555555", "name": "Ben Ortiz", "medicaid_id": "TX12345678"}],
  "caregivers": [{"id": "` + seedCaregiverID + `", "name": "Ana Ruiz", "employee_id": "E-100", "credentials": ["CPR"]}]
}`

// The Prometheus default registry allows one build per test binary.
func TestInMemoryProcess(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o600))

	cfg := config.Server{
		Addr:          ":0",
		JWTSigningKey: "test-key",
		JWTIssuer:     "evv",
		JWTAudience:   "evv-api",
		EVV: config.EVVConfig{
			ComplianceProfile:       "FEDERAL_MINIMUM",
			GraceMinutes:            10,
			GPSStrictAccuracyMeters: 100,
			DefaultRadiusMeters:     100,
			VMURAgeDays:             30,
			CollaboratorTimeout:     time.Second,
			DirectorySeedPath:       seedPath,
		},
		Sync:      config.SyncConfig{MaxAttempts: 3, ClockSkew: 2 * time.Second},
		RateLimit: config.RateLimitConfig{CapturePerMinute: 30, SyncPerMinute: 20, ReadPerMinute: 120},
	}
	a, err := build(context.Background(), cfg, logger.New("error"))
	require.NoError(t, err)
	t.Cleanup(a.close)

	caregiverID, err := id.ParseCaregiverID(seedCaregiverID)
	require.NoError(t, err)
	token, err := jwttoken.NewJWTService("test-key", "evv", "evv-api").
		GenerateAccessToken(id.NewUserID(), requestcontext.RoleCaregiver, caregiverID, time.Hour)
	require.NoError(t, err)

	t.Run("health is public", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("capture routes require a token", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodPost, "/visits/"+seedVisitID+"/clock-in", map[string]any{}))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	var recordID string
	t.Run("caregiver clocks in at the service address", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/visits/"+seedVisitID+"/clock-in", map[string]any{
			"location": map[string]any{"latitude": 30.2672, "longitude": -97.7431, "accuracy_meters": 8},
		})
		rr := testutil.DoRequest(a.router, testutil.AsDevice(req, token, "tablet-7"))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		assert.Equal(t, "30", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "29", rr.Header().Get("X-RateLimit-Remaining"))

		body := testutil.UnmarshalResponse[struct {
			Record struct {
				ID string `json:"id"`
			} `json:"evv_record"`
		}](t, rr)
		recordID = body.Record.ID
		require.NotEmpty(t, recordID)
	})

	fetchRecord := func(t *testing.T) map[string]any {
		t.Helper()
		req := testutil.NewRequest(t, http.MethodGet, "/evv-records/"+recordID)
		rr := testutil.DoRequest(a.router, testutil.AsDevice(req, token, "tablet-7"))
		testutil.AssertStatusOK(t, rr)
		return *testutil.UnmarshalResponse[map[string]any](t, rr)
	}
	reconcileRecord := func(t *testing.T, fields map[string]any) syncResult {
		t.Helper()
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sync/tablet-7/reconcile", map[string]any{
			"records": []map[string]any{{
				"type":        "evv_record",
				"id":          recordID,
				"modified_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
				"fields":      fields,
			}},
		})
		rr := testutil.DoRequest(a.router, testutil.AsDevice(req, token, ""))
		testutil.AssertStatusOK(t, rr)
		report := testutil.UnmarshalResponse[struct {
			Results []syncResult `json:"results"`
		}](t, rr)
		require.Len(t, report.Results, 1)
		return report.Results[0]
	}

	t.Run("device copy with a moved clock-in goes to manual review", func(t *testing.T) {
		require.NotEmpty(t, recordID)
		stored := fetchRecord(t)
		clockIn, err := time.Parse(time.RFC3339Nano, stored["clock_in_time"].(string))
		require.NoError(t, err)

		copied := fetchRecord(t)
		copied["clock_in_time"] = clockIn.Add(-3 * time.Hour).Format(time.RFC3339Nano)
		res := reconcileRecord(t, copied)

		assert.Equal(t, "manual_review", res.Outcome)
		assert.Equal(t, "manual", res.Strategy)
		assert.Empty(t, res.ComplianceLevel)
		after := fetchRecord(t)
		assert.Equal(t, stored["clock_in_time"], after["clock_in_time"])
		assert.Equal(t, stored["version"], after["version"])
	})

	t.Run("device notes on the record are applied and re-evaluated", func(t *testing.T) {
		require.NotEmpty(t, recordID)
		copied := fetchRecord(t)
		copied["caregiver_notes"] = "client asleep on arrival"
		copied["client_name"] = "renamed on device"
		res := reconcileRecord(t, copied)

		assert.Equal(t, "applied", res.Outcome)
		assert.Equal(t, "client_wins", res.Strategy)
		assert.NotEmpty(t, res.ComplianceLevel)
		after := fetchRecord(t)
		assert.Equal(t, "client asleep on arrival", after["caregiver_notes"])
		assert.Equal(t, "Ben Ortiz", after["client_name"], "server-owned fields keep the server value")
	})

	t.Run("device copy of an unknown evv record is refused", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sync/tablet-7/reconcile", map[string]any{
			"records": []map[string]any{{
				"type": "evv_record", "id": "0b9e2c1a-5d4f-4e3a-8b7c-6a5f4e3d2c1b", "modified_at": "2026-03-02T15:00:00Z",
				"fields": map[string]any{"clock_in_time": "2026-03-02T14:00:00Z"},
			}},
		})
		rr := testutil.DoRequest(a.router, testutil.AsDevice(req, token, ""))
		testutil.AssertStatusOK(t, rr)
		report := testutil.UnmarshalResponse[struct {
			Results []syncResult `json:"results"`
		}](t, rr)
		require.Len(t, report.Results, 1)
		assert.Equal(t, "failed", report.Results[0].Outcome)
		assert.Contains(t, report.Results[0].Error, "opened by clock-in")
	})

	t.Run("sync reconciles behind the same auth", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sync/tablet-7/reconcile", map[string]any{
			"records": []map[string]any{{
				"type": "task", "id": "task-1", "modified_at": "2026-03-02T15:00:00Z",
				"fields": map[string]any{"completed": true},
			}},
		})
		rr := testutil.DoRequest(a.router, testutil.AsDevice(req, token, ""))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("metrics expose capture counters", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		body := rr.Body.String()
		assert.True(t, strings.Contains(body, "evv_clock_events_total"))
		assert.True(t, strings.Contains(body, "evv_http_requests_total"))
	})
}

type syncResult struct {
	Outcome         string `json:"outcome"`
	Strategy        string `json:"strategy"`
	Error           string `json:"error"`
	ComplianceLevel string `json:"compliance_level"`
}
