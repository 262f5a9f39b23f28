package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cucumber/godog"

	"evv/pkg/evvclient"
)

type TestContext interface {
	Client() (*evvclient.Client, error)
	Record(clock *evvclient.ClockResponse, report *evvclient.SyncReport, err error)
	LastReport() (*evvclient.SyncReport, error)
	LastClock() (*evvclient.ClockResponse, error)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &reconcileSteps{tc: tc}

	ctx.Step(`^I push an offline "([^"]*)" "([^"]*)" modified at "([^"]*)" with fields:$`, steps.pushRecord)
	ctx.Step(`^the "([^"]*)" "([^"]*)" should be "([^"]*)"$`, steps.outcomeShouldBe)
	ctx.Step(`^the sync summary should count (\d+) "([^"]*)"$`, steps.summaryShouldCount)

	ctx.Step(`^I push my copy of the EVV record with the clock-in moved (\d+) hours earlier$`, steps.pushMovedClockIn)
	ctx.Step(`^I push my copy of the EVV record with caregiver notes "([^"]*)"$`, steps.pushNotes)
	ctx.Step(`^the EVV record should be "([^"]*)"$`, steps.evvOutcomeShouldBe)
	ctx.Step(`^the EVV record should have caregiver notes "([^"]*)"$`, steps.notesShouldBe)
}

type reconcileSteps struct {
	tc       TestContext
	recordID string
}

// pushRecord sends one record whose fields come from a two-column table.
// Values that parse as numbers or booleans are sent as such.
func (s *reconcileSteps) pushRecord(ctx context.Context, recordType, recordID, modifiedAt string, table *godog.Table) error {
	c, err := s.tc.Client()
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, modifiedAt)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("field rows need a name and a value")
		}
		fields[row.Cells[0].Value] = scalar(row.Cells[1].Value)
	}
	report, err := c.Reconcile(ctx, []evvclient.SyncRecord{{
		Type:       recordType,
		ID:         recordID,
		ModifiedAt: at,
		Fields:     fields,
	}})
	s.tc.Record(nil, report, err)
	return nil
}

func scalar(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func (s *reconcileSteps) outcomeShouldBe(_ context.Context, recordType, recordID, outcome string) error {
	report, err := s.tc.LastReport()
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		if r.RecordType == recordType && r.RecordID == recordID {
			if r.Outcome != outcome {
				return fmt.Errorf("expected %s %s to be %s, got %s (%s)", recordType, recordID, outcome, r.Outcome, r.Error)
			}
			return nil
		}
	}
	return fmt.Errorf("no result for %s %s", recordType, recordID)
}

func (s *reconcileSteps) summaryShouldCount(_ context.Context, n int, outcome string) error {
	report, err := s.tc.LastReport()
	if err != nil {
		return err
	}
	if got := report.Summary[outcome]; got != n {
		return fmt.Errorf("expected %d %s, got %d", n, outcome, got)
	}
	return nil
}

// deviceCopy fetches the record opened by the last clock event, the way a
// device caches it before going offline.
func (s *reconcileSteps) deviceCopy(ctx context.Context) (*evvclient.Client, map[string]any, error) {
	c, err := s.tc.Client()
	if err != nil {
		return nil, nil, err
	}
	if s.recordID == "" {
		clock, err := s.tc.LastClock()
		if err != nil {
			return nil, nil, err
		}
		s.recordID = clock.Record.ID
	}
	doc, err := c.RecordDocument(ctx, s.recordID)
	if err != nil {
		return nil, nil, err
	}
	return c, doc, nil
}

// pushCopy sends the edited copy as newer than anything on the server.
func (s *reconcileSteps) pushCopy(ctx context.Context, c *evvclient.Client, fields map[string]any) {
	report, err := c.Reconcile(ctx, []evvclient.SyncRecord{{
		Type:       "evv_record",
		ID:         s.recordID,
		ModifiedAt: time.Now().Add(time.Hour).UTC(),
		Fields:     fields,
	}})
	s.tc.Record(nil, report, err)
}

func (s *reconcileSteps) pushMovedClockIn(ctx context.Context, hours int) error {
	c, doc, err := s.deviceCopy(ctx)
	if err != nil {
		return err
	}
	raw, _ := doc["clock_in_time"].(string)
	clockIn, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("record has no clock-in time: %w", err)
	}
	doc["clock_in_time"] = clockIn.Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339Nano)
	s.pushCopy(ctx, c, doc)
	return nil
}

func (s *reconcileSteps) pushNotes(ctx context.Context, notes string) error {
	c, doc, err := s.deviceCopy(ctx)
	if err != nil {
		return err
	}
	doc["caregiver_notes"] = notes
	s.pushCopy(ctx, c, doc)
	return nil
}

func (s *reconcileSteps) evvOutcomeShouldBe(ctx context.Context, outcome string) error {
	if s.recordID == "" {
		return fmt.Errorf("no EVV record pushed")
	}
	return s.outcomeShouldBe(ctx, "evv_record", s.recordID, outcome)
}

func (s *reconcileSteps) notesShouldBe(ctx context.Context, notes string) error {
	_, doc, err := s.deviceCopy(ctx)
	if err != nil {
		return err
	}
	if got := doc["caregiver_notes"]; got != notes {
		return fmt.Errorf("expected caregiver notes %q, got %v", notes, got)
	}
	return nil
}
