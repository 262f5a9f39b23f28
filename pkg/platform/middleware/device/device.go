// Package device parses request headers into device metadata recorded on
// every clock event.
package device

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"evv/pkg/platform/middleware/metadata"
	"evv/pkg/requestcontext"
)

const (
	HeaderDeviceID   = "X-Device-ID"
	HeaderAppVersion = "X-App-Version"
)

// Middleware extracts device id, app version, and parsed User-Agent details.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := FromRequest(r)
		ctx := requestcontext.WithDevice(r.Context(), d)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromRequest builds device metadata from request headers.
func FromRequest(r *http.Request) requestcontext.Device {
	raw := r.Header.Get("User-Agent")
	d := requestcontext.Device{
		ID:         strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
		AppVersion: strings.TrimSpace(r.Header.Get(HeaderAppVersion)),
		UserAgent:  raw,
		ClientIP:   metadata.ClientIPFromRequest(r),
	}
	if raw == "" {
		return d
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if browser != "" && version != "" {
		browser = browser + " " + version
	}
	d.Platform = ua.Platform()
	d.OS = ua.OS()
	d.Browser = browser
	d.Mobile = ua.Mobile()
	return d
}
