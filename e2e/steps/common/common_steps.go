package common

import (
	"context"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

type TestContext interface {
	SignIn(caregiverID, deviceID string) error
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}
	ctx.Step(`^caregiver "([^"]*)" is signed in on device "([^"]*)"$`, steps.signedInOnDevice)
	ctx.Step(`^caregiver "([^"]*)" is signed in on a new device$`, steps.signedInOnNewDevice)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) signedInOnDevice(_ context.Context, caregiverID, deviceID string) error {
	return s.tc.SignIn(caregiverID, deviceID)
}

// A fresh device keeps scenarios out of each other's rate-limit windows.
func (s *commonSteps) signedInOnNewDevice(_ context.Context, caregiverID string) error {
	return s.tc.SignIn(caregiverID, "e2e-"+uuid.NewString())
}
