package testutil

import (
	"context"
	"net/http"

	id "evv/pkg/domain"
	"evv/pkg/requestcontext"
)

// WithCaregiver marks the request as coming from a caregiver, the way the
// JWT middleware would after validating a token.
func WithCaregiver(req *http.Request, userID id.UserID, caregiverID id.CaregiverID) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), userID, requestcontext.RoleCaregiver, caregiverID)
	return req.WithContext(ctx)
}

// FromDevice attaches parsed device metadata, the way the device
// middleware would.
func FromDevice(req *http.Request, deviceID string) *http.Request {
	ctx := requestcontext.WithDevice(req.Context(), requestcontext.Device{ID: deviceID})
	return req.WithContext(ctx)
}

// CaregiverContext returns a service-level context for a caregiver actor.
func CaregiverContext(userID id.UserID, caregiverID id.CaregiverID) context.Context {
	return requestcontext.WithActor(context.Background(), userID, requestcontext.RoleCaregiver, caregiverID)
}

// SupervisorContext returns a service-level context for a supervisor actor.
func SupervisorContext(userID id.UserID) context.Context {
	return requestcontext.WithActor(context.Background(), userID, requestcontext.RoleSupervisor, id.CaregiverID{})
}
