package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "evv/pkg/domain-errors"
)

// Typed identifiers keep visit, record, and person IDs from being swapped at
// call sites. All are UUIDs; parsing rejects empty, malformed, and nil values.

const maxIDLength = 64

func parseUUID(s, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func unmarshalUUID(b []byte) (uuid.UUID, error) {
	if len(b) == 0 {
		return uuid.Nil, nil
	}
	return uuid.ParseBytes(b)
}

// UserID identifies an authenticated caller.
type UserID uuid.UUID

// NewUserID returns a random user id.
func NewUserID() UserID { return UserID(uuid.New()) }

// ParseUserID validates s at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func (i UserID) String() string { return uuid.UUID(i).String() }

func (i UserID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i UserID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *UserID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = UserID(u)
	return nil
}

// VisitID identifies a scheduled visit owned by the scheduling system.
type VisitID uuid.UUID

// NewVisitID returns a random visit id.
func NewVisitID() VisitID { return VisitID(uuid.New()) }

// ParseVisitID validates s at a trust boundary.
func ParseVisitID(s string) (VisitID, error) {
	u, err := parseUUID(s, "visit id")
	return VisitID(u), err
}

func (i VisitID) String() string { return uuid.UUID(i).String() }

func (i VisitID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i VisitID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *VisitID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = VisitID(u)
	return nil
}

// RecordID identifies an EVV record.
type RecordID uuid.UUID

// NewRecordID returns a random evv record id.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// ParseRecordID validates s at a trust boundary.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s, "evv record id")
	return RecordID(u), err
}

func (i RecordID) String() string { return uuid.UUID(i).String() }

func (i RecordID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i RecordID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *RecordID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = RecordID(u)
	return nil
}

// TimeEntryID identifies an immutable clock event.
type TimeEntryID uuid.UUID

// NewTimeEntryID returns a random time entry id.
func NewTimeEntryID() TimeEntryID { return TimeEntryID(uuid.New()) }

// ParseTimeEntryID validates s at a trust boundary.
func ParseTimeEntryID(s string) (TimeEntryID, error) {
	u, err := parseUUID(s, "time entry id")
	return TimeEntryID(u), err
}

func (i TimeEntryID) String() string { return uuid.UUID(i).String() }

func (i TimeEntryID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i TimeEntryID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *TimeEntryID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = TimeEntryID(u)
	return nil
}

// GeofenceID identifies a verification boundary.
type GeofenceID uuid.UUID

// NewGeofenceID returns a random geofence id.
func NewGeofenceID() GeofenceID { return GeofenceID(uuid.New()) }

// ParseGeofenceID validates s at a trust boundary.
func ParseGeofenceID(s string) (GeofenceID, error) {
	u, err := parseUUID(s, "geofence id")
	return GeofenceID(u), err
}

func (i GeofenceID) String() string { return uuid.UUID(i).String() }

func (i GeofenceID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i GeofenceID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *GeofenceID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = GeofenceID(u)
	return nil
}

// CaregiverID identifies the caregiver delivering a visit.
type CaregiverID uuid.UUID

// NewCaregiverID returns a random caregiver id.
func NewCaregiverID() CaregiverID { return CaregiverID(uuid.New()) }

// ParseCaregiverID validates s at a trust boundary.
func ParseCaregiverID(s string) (CaregiverID, error) {
	u, err := parseUUID(s, "caregiver id")
	return CaregiverID(u), err
}

func (i CaregiverID) String() string { return uuid.UUID(i).String() }

func (i CaregiverID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i CaregiverID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *CaregiverID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = CaregiverID(u)
	return nil
}

// ClientID identifies the care recipient.
type ClientID uuid.UUID

// NewClientID returns a random client id.
func NewClientID() ClientID { return ClientID(uuid.New()) }

// ParseClientID validates s at a trust boundary.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s, "client id")
	return ClientID(u), err
}

func (i ClientID) String() string { return uuid.UUID(i).String() }

func (i ClientID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i ClientID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *ClientID) UnmarshalText(b []byte) error {
	u, err := unmarshalUUID(b)
	if err != nil {
		return err
	}
	*i = ClientID(u)
	return nil
}
