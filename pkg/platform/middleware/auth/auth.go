package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "evv/pkg/domain"
	"evv/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID      string
	Role        string
	CaregiverID string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and places the actor in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token subject")
				return
			}
			role := requestcontext.Role(strings.ToUpper(claims.Role))
			switch role {
			case requestcontext.RoleCaregiver, requestcontext.RoleSupervisor, requestcontext.RoleAdmin:
			default:
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Unknown role")
				return
			}

			// Caregiver claim is optional for supervisors.
			var caregiverID id.CaregiverID
			if claims.CaregiverID != "" {
				caregiverID, err = id.ParseCaregiverID(claims.CaregiverID)
				if err != nil {
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid caregiver claim")
					return
				}
			}

			ctx = requestcontext.WithActor(ctx, userID, role, caregiverID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
