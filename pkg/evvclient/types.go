package evvclient

import "time"

type Location struct {
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	Method         string     `json:"method,omitempty"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
}

type ClockInRequest struct {
	Location Location `json:"location"`
}

type Attestation struct {
	SignedBy  string `json:"signed_by"`
	Signature string `json:"signature"`
}

type ClockOutRequest struct {
	Location    Location     `json:"location"`
	Attestation *Attestation `json:"attestation,omitempty"`
}

// Record is the subset of the EVV record devices display.
type Record struct {
	ID                   string     `json:"id"`
	VisitID              string     `json:"visit_id"`
	Version              int64      `json:"version"`
	RecordStatus         string     `json:"record_status"`
	VerificationLevel    string     `json:"verification_level"`
	ClockInTime          time.Time  `json:"clock_in_time"`
	ClockOutTime         *time.Time `json:"clock_out_time,omitempty"`
	TotalDurationMinutes *int       `json:"total_duration_minutes,omitempty"`
	ComplianceFlags      []string   `json:"compliance_flags"`
	IntegrityVerified    bool       `json:"integrity_verified"`
}

type TimeEntry struct {
	ID         string    `json:"id"`
	EntryType  string    `json:"entry_type"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Verification struct {
	DistanceMeters        float64 `json:"distance_meters"`
	EffectiveRadiusMeters float64 `json:"effective_radius_meters"`
	ComplianceLevel       string  `json:"compliance_level"`
	ValidationType        string  `json:"validation_type"`
	WithinGeofence        bool    `json:"within_geofence"`
	SuggestedAction       string  `json:"suggested_action,omitempty"`
}

type ClockResponse struct {
	Record       Record       `json:"evv_record"`
	TimeEntry    TimeEntry    `json:"time_entry"`
	Verification Verification `json:"verification"`
}

// SyncRecord is one queued offline change.
type SyncRecord struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Version    int64          `json:"version"`
	ModifiedAt time.Time      `json:"modified_at"`
	Fields     map[string]any `json:"fields"`
}

type SyncResult struct {
	RecordType string      `json:"record_type"`
	RecordID   string      `json:"record_id"`
	Outcome    string      `json:"outcome"`
	Strategy   string      `json:"strategy,omitempty"`
	Attempts   int         `json:"attempts"`
	Record     *SyncRecord `json:"record,omitempty"`
	Error      string      `json:"error,omitempty"`

	ComplianceLevel string   `json:"compliance_level,omitempty"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

type SyncReport struct {
	DeviceID string         `json:"device_id"`
	Results  []SyncResult   `json:"results"`
	Summary  map[string]int `json:"summary"`
}
