package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"

	"evv/pkg/evvclient"
)

type TestContext interface {
	Client() (*evvclient.Client, error)
	Record(clock *evvclient.ClockResponse, report *evvclient.SyncReport, err error)
	LastClock() (*evvclient.ClockResponse, error)
	LastError() error
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &captureSteps{tc: tc}

	ctx.Step(`^I clock in to visit "([^"]*)" at (-?\d+\.\d+), (-?\d+\.\d+) with accuracy (\d+) meters$`, steps.clockIn)
	ctx.Step(`^I clock out of visit "([^"]*)" at (-?\d+\.\d+), (-?\d+\.\d+) with accuracy (\d+) meters$`, steps.clockOut)
	ctx.Step(`^I fetch the EVV record$`, steps.fetchRecord)

	ctx.Step(`^the verification should be "([^"]*)"$`, steps.verificationShouldBe)
	ctx.Step(`^the record status should be "([^"]*)"$`, steps.recordStatusShouldBe)
	ctx.Step(`^the record integrity should be verified$`, steps.integrityShouldBeVerified)
	ctx.Step(`^the request should fail with status (\d+) and error "([^"]*)"$`, steps.requestShouldFail)
}

type captureSteps struct {
	tc       TestContext
	recordID string
}

func location(lat, lon float64, accuracy int) evvclient.Location {
	return evvclient.Location{Latitude: lat, Longitude: lon, AccuracyMeters: float64(accuracy), Method: "GPS"}
}

func (s *captureSteps) clockIn(ctx context.Context, visitID string, lat, lon float64, accuracy int) error {
	c, err := s.tc.Client()
	if err != nil {
		return err
	}
	resp, err := c.ClockIn(ctx, visitID, evvclient.ClockInRequest{Location: location(lat, lon, accuracy)})
	s.remember(resp)
	s.tc.Record(resp, nil, err)
	return nil
}

func (s *captureSteps) clockOut(ctx context.Context, visitID string, lat, lon float64, accuracy int) error {
	c, err := s.tc.Client()
	if err != nil {
		return err
	}
	resp, err := c.ClockOut(ctx, visitID, evvclient.ClockOutRequest{Location: location(lat, lon, accuracy)})
	s.remember(resp)
	s.tc.Record(resp, nil, err)
	return nil
}

func (s *captureSteps) remember(resp *evvclient.ClockResponse) {
	if resp != nil {
		s.recordID = resp.Record.ID
	}
}

func (s *captureSteps) fetchRecord(ctx context.Context) error {
	if s.recordID == "" {
		return errors.New("no record captured in this scenario")
	}
	c, err := s.tc.Client()
	if err != nil {
		return err
	}
	rec, err := c.GetRecord(ctx, s.recordID)
	if err != nil {
		s.tc.Record(nil, nil, err)
		return nil
	}
	s.tc.Record(&evvclient.ClockResponse{Record: *rec}, nil, nil)
	return nil
}

func (s *captureSteps) verificationShouldBe(_ context.Context, level string) error {
	resp, err := s.tc.LastClock()
	if err != nil {
		return err
	}
	if resp.Verification.ComplianceLevel != level {
		return fmt.Errorf("expected verification %s, got %s (%s)", level,
			resp.Verification.ComplianceLevel, resp.Verification.ValidationType)
	}
	return nil
}

func (s *captureSteps) recordStatusShouldBe(_ context.Context, status string) error {
	resp, err := s.tc.LastClock()
	if err != nil {
		return err
	}
	if resp.Record.RecordStatus != status {
		return fmt.Errorf("expected record status %s, got %s", status, resp.Record.RecordStatus)
	}
	return nil
}

func (s *captureSteps) integrityShouldBeVerified(_ context.Context) error {
	resp, err := s.tc.LastClock()
	if err != nil {
		return err
	}
	if !resp.Record.IntegrityVerified {
		return errors.New("record integrity check failed")
	}
	return nil
}

func (s *captureSteps) requestShouldFail(_ context.Context, status int, code string) error {
	var apiErr *evvclient.APIError
	if !errors.As(s.tc.LastError(), &apiErr) {
		return fmt.Errorf("expected an API error, got %v", s.tc.LastError())
	}
	if apiErr.StatusCode != status || apiErr.Code != code {
		return fmt.Errorf("expected %d %s, got %d %s", status, code, apiErr.StatusCode, apiErr.Code)
	}
	return nil
}
