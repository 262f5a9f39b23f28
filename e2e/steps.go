// Package e2e drives a running EVV server through the device client.
//
// Start the server with EVV_DIRECTORY_SEED=e2e/testdata/directory.json and
// point EVV_E2E_BASE_URL at it. EVV_E2E_JWT_SIGNING_KEY must match the
// server's JWT_SIGNING_KEY.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	jwttoken "evv/internal/jwt_token"
	id "evv/pkg/domain"
	"evv/pkg/evvclient"
	"evv/pkg/requestcontext"

	"evv/e2e/steps/capture"
	"evv/e2e/steps/common"
	"evv/e2e/steps/ratelimit"
	"evv/e2e/steps/reconcile"
)

// TestContext is the per-scenario state shared by every step package.
type TestContext struct {
	baseURL string
	jwt     *jwttoken.JWTService

	client     *evvclient.Client
	lastErr    error
	lastClock  *evvclient.ClockResponse
	lastReport *evvclient.SyncReport
}

func NewTestContext(baseURL, signingKey, issuer, audience string) *TestContext {
	return &TestContext{
		baseURL: baseURL,
		jwt:     jwttoken.NewJWTService(signingKey, issuer, audience),
	}
}

// SignIn builds a client acting as the caregiver from deviceID.
func (tc *TestContext) SignIn(caregiverID, deviceID string) error {
	cgID, err := id.ParseCaregiverID(caregiverID)
	if err != nil {
		return err
	}
	token, err := tc.jwt.GenerateAccessToken(id.NewUserID(), requestcontext.RoleCaregiver, cgID, time.Hour)
	if err != nil {
		return err
	}
	tc.client, err = evvclient.New(tc.baseURL,
		evvclient.WithToken(token),
		evvclient.WithDeviceID(deviceID),
		evvclient.WithUserAgent("evv-e2e/1.0"),
	)
	return err
}

func (tc *TestContext) Client() (*evvclient.Client, error) {
	if tc.client == nil {
		return nil, errors.New("no caregiver signed in")
	}
	return tc.client, nil
}

// Record stores the outcome of the last call so assertion steps can read it.
func (tc *TestContext) Record(clock *evvclient.ClockResponse, report *evvclient.SyncReport, err error) {
	tc.lastClock, tc.lastReport, tc.lastErr = clock, report, err
}

func (tc *TestContext) LastClock() (*evvclient.ClockResponse, error) {
	if tc.lastErr != nil {
		return nil, fmt.Errorf("last call failed: %w", tc.lastErr)
	}
	if tc.lastClock == nil {
		return nil, errors.New("no clock response recorded")
	}
	return tc.lastClock, nil
}

func (tc *TestContext) LastReport() (*evvclient.SyncReport, error) {
	if tc.lastErr != nil {
		return nil, fmt.Errorf("last call failed: %w", tc.lastErr)
	}
	if tc.lastReport == nil {
		return nil, errors.New("no sync report recorded")
	}
	return tc.lastReport, nil
}

func (tc *TestContext) LastError() error {
	return tc.lastErr
}

func (tc *TestContext) reset() {
	tc.client = nil
	tc.Record(nil, nil, nil)
}

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	common.RegisterSteps(ctx, tc)
	capture.RegisterSteps(ctx, tc)
	reconcile.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
