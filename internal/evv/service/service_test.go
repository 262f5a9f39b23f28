package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"evv/internal/evv/compliance"
	"evv/internal/evv/elements"
	"evv/internal/evv/models"
	"evv/internal/evv/ports"
	"evv/internal/evv/ports/mocks"
	"evv/internal/evv/store"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
	"evv/pkg/platform/sentinel"
	"evv/pkg/requestcontext"
	"evv/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	visits     *mocks.MockVisitPort
	clients    *mocks.MockClientPort
	caregivers *mocks.MockCaregiverPort
	authz      *mocks.MockAuthorizationPort
	auditor    *mocks.MockAuditPort
	stores     store.Stores
	svc        *Service

	visit       *ports.Visit
	client      *ports.Client
	caregiver   *ports.Caregiver
	caregiverID id.CaregiverID
	userID      id.UserID
	scheduled   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.visits = mocks.NewMockVisitPort(s.ctrl)
	s.clients = mocks.NewMockClientPort(s.ctrl)
	s.caregivers = mocks.NewMockCaregiverPort(s.ctrl)
	s.authz = mocks.NewMockAuthorizationPort(s.ctrl)
	s.auditor = mocks.NewMockAuditPort(s.ctrl)

	var tx *store.ShardedTx
	s.stores, tx = store.NewMemoryStores()

	svc, err := New(s.stores, tx, Collaborators{
		Visits:        s.visits,
		Clients:       s.clients,
		Caregivers:    s.caregivers,
		Authorization: s.authz,
	},
		WithAuditor(s.auditor),
		WithAggregator(compliance.NewAggregator(compliance.WithProfile(elements.StateEnhanced()))),
		WithCollaboratorTimeout(time.Second),
	)
	s.Require().NoError(err)
	s.svc = svc

	lat, lon := 30.2672, -97.7431
	s.scheduled = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	s.caregiverID = id.NewCaregiverID()
	s.userID = id.NewUserID()
	s.client = &ports.Client{ID: id.NewClientID(), Name: "Ada Client", MedicaidID: "TX12345678"}
	s.caregiver = &ports.Caregiver{ID: s.caregiverID, Name: "Grace Giver", EmployeeID: "E-100", NationalProviderID: "1234567893"}
	s.visit = &ports.Visit{
		ID:                  id.NewVisitID(),
		ServiceTypeCode:     "T1019",
		ServiceTypeName:     "Personal Care",
		ClientID:            s.client.ID,
		AssignedCaregiverID: s.caregiverID,
		ServiceDate:         "2026-03-02",
		ServiceAddress: models.Address{
			Line1: "100 Congress Ave", City: "Austin", State: "TX", PostalCode: "78701",
			Latitude: &lat, Longitude: &lon, GeofenceRadiusMeters: 100,
		},
		ScheduledStart: s.scheduled,
		ScheduledEnd:   s.scheduled.Add(2 * time.Hour),
	}
}

func (s *ServiceSuite) caregiverCtx(at time.Time) context.Context {
	ctx := testutil.CaregiverContext(s.userID, s.caregiverID)
	ctx = requestcontext.WithDevice(ctx, requestcontext.Device{ID: "tablet-7", Platform: "Android"})
	return requestcontext.WithTime(ctx, at)
}

func (s *ServiceSuite) supervisorCtx(at time.Time) context.Context {
	return requestcontext.WithTime(testutil.SupervisorContext(id.NewUserID()), at)
}

// expectCollaborators wires happy-path lookups for any number of calls.
func (s *ServiceSuite) expectCollaborators() {
	s.visits.EXPECT().GetVisit(gomock.Any(), s.visit.ID).Return(s.visit, nil).AnyTimes()
	s.clients.EXPECT().GetClient(gomock.Any(), s.client.ID).Return(s.client, nil).AnyTimes()
	s.caregivers.EXPECT().GetCaregiver(gomock.Any(), s.caregiverID).Return(s.caregiver, nil).AnyTimes()
	s.authz.EXPECT().CanProvideService(gomock.Any(), s.caregiverID, "T1019", s.client.ID).
		Return(&ports.Authorization{Authorized: true}, nil).AnyTimes()
}

func (s *ServiceSuite) expectAudit() {
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *ServiceSuite) atCenter(accuracy float64) models.LocationSample {
	return models.LocationSample{Latitude: 30.2672, Longitude: -97.7431, AccuracyMeters: accuracy, Method: models.LocationMethodGPS}
}

// offset moves roughly meters north of the service address.
func (s *ServiceSuite) offset(meters, accuracy float64) models.LocationSample {
	sample := s.atCenter(accuracy)
	sample.Latitude += meters / 111_195.0
	return sample
}

func (s *ServiceSuite) clockIn(sample models.LocationSample) *ClockResult {
	res, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled.Add(2*time.Minute)), ClockInRequest{VisitID: s.visit.ID, Location: sample})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) clockOut(sample models.LocationSample) *ClockResult {
	res, err := s.svc.ClockOut(s.caregiverCtx(s.scheduled.Add(2*time.Hour+time.Minute)), ClockOutRequest{VisitID: s.visit.ID, Location: sample})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestClockIn() {
	s.Run("creates a pending record verified inside the geofence", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()

		res := s.clockIn(s.atCenter(8))

		s.Equal(models.RecordPending, res.Record.RecordStatus)
		s.Equal(models.VerificationFull, res.Record.VerificationLevel)
		s.Equal(models.ValidationWithinBaseRadius, res.Verification.ValidationType)
		s.Equal("TX12345678", res.Record.ClientMedicaidID)
		s.Equal("1234567893", res.Record.CaregiverNPI)
		s.True(models.VerifyIntegrity(res.Record))

		s.Equal(models.EntryVerified, res.Entry.Status)
		s.Equal(res.Record.ID, res.Entry.RecordID)
		s.Equal("tablet-7", res.Entry.Device.ID)
		s.Equal(models.ComputeEntryHash(res.Entry), res.Entry.Hash)

		fence, err := s.stores.Geofences.FindByID(context.Background(), res.Record.GeofenceID)
		s.Require().NoError(err)
		s.Equal(int64(1), fence.VerificationCount)
		s.Equal(int64(1), fence.SuccessfulVerifications)
		s.Equal(100.0, fence.RadiusMeters)
	})

	s.Run("outside the geofence is recorded but flagged", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()

		res := s.clockIn(s.offset(400, 10))

		s.Equal(models.ValidationOutsideGeofence, res.Verification.ValidationType)
		s.Equal(models.VerificationPartial, res.Record.VerificationLevel)
		s.Equal(models.EntryFlagged, res.Entry.Status)

		fence, err := s.stores.Geofences.FindByID(context.Background(), res.Record.GeofenceID)
		s.Require().NoError(err)
		s.Equal(int64(1), fence.FailedVerifications)
	})

	s.Run("second clock-in for the visit is a conflict", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		s.clockIn(s.atCenter(8))

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled.Add(3*time.Minute)), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(8)})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.ErrorContains(err, "visit already clocked in")
	})

	s.Run("geofence is shared across visits at the same address", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		first := s.clockIn(s.atCenter(8))

		other := *s.visit
		other.ID = id.NewVisitID()
		s.visits.EXPECT().GetVisit(gomock.Any(), other.ID).Return(&other, nil)
		second, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled.Add(5*time.Minute)), ClockInRequest{VisitID: other.ID, Location: s.atCenter(12)})
		s.Require().NoError(err)
		s.Equal(first.Record.GeofenceID, second.Record.GeofenceID)

		fence, err := s.stores.Geofences.FindByID(context.Background(), first.Record.GeofenceID)
		s.Require().NoError(err)
		s.Equal(int64(2), fence.VerificationCount)
		s.InDelta(10.0, fence.AverageAccuracy, 1e-9)
	})

	s.Run("supervisor may clock in for the assigned caregiver", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()

		res, err := s.svc.ClockIn(s.supervisorCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.Require().NoError(err)
		s.Equal(s.caregiverID, res.Record.CaregiverID)
	})

	s.Run("another caregiver is forbidden", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(string(audit.EventClockDenied), e.Action)
			return nil
		})

		ctx := requestcontext.WithActor(context.Background(), id.NewUserID(), requestcontext.RoleCaregiver, id.NewCaregiverID())
		_, err := s.svc.ClockIn(ctx, ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unauthenticated caller", func() {
		s.SetupTest()
		_, err := s.svc.ClockIn(context.Background(), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("caregiver without credentials is refused", func() {
		s.SetupTest()
		s.visits.EXPECT().GetVisit(gomock.Any(), s.visit.ID).Return(s.visit, nil)
		s.clients.EXPECT().GetClient(gomock.Any(), s.client.ID).Return(s.client, nil)
		s.caregivers.EXPECT().GetCaregiver(gomock.Any(), s.caregiverID).Return(s.caregiver, nil)
		s.authz.EXPECT().CanProvideService(gomock.Any(), s.caregiverID, "T1019", s.client.ID).
			Return(&ports.Authorization{Authorized: false, MissingCredentials: []string{"CPR"}}, nil)
		s.expectAudit()

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.ErrorContains(err, "CPR")

		_, err = s.stores.Records.FindByVisitID(context.Background(), s.visit.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("address without coordinates", func() {
		s.SetupTest()
		noCoords := *s.visit
		noCoords.ServiceAddress.Latitude = nil
		s.visits.EXPECT().GetVisit(gomock.Any(), s.visit.ID).Return(&noCoords, nil)

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("malformed location is a validation error", func() {
		s.SetupTest()
		sample := s.atCenter(5)
		sample.Latitude = 123
		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: sample})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("collaborator outage is unavailable, not a denial", func() {
		s.SetupTest()
		s.visits.EXPECT().GetVisit(gomock.Any(), s.visit.ID).Return(nil, sentinel.ErrUnavailable)

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("collaborator deadline is a timeout", func() {
		s.SetupTest()
		s.visits.EXPECT().GetVisit(gomock.Any(), s.visit.ID).Return(s.visit, nil)
		s.clients.EXPECT().GetClient(gomock.Any(), s.client.ID).Return(nil, context.DeadlineExceeded)
		s.caregivers.EXPECT().GetCaregiver(gomock.Any(), s.caregiverID).Return(s.caregiver, nil).AnyTimes()
		s.authz.EXPECT().CanProvideService(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&ports.Authorization{Authorized: true}, nil).AnyTimes()

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("unknown visit", func() {
		s.SetupTest()
		s.visits.EXPECT().GetVisit(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: id.NewVisitID(), Location: s.atCenter(5)})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("audit failure leaves nothing recorded and the retry succeeds", func() {
		s.SetupTest()
		s.expectCollaborators()
		gomock.InOrder(
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down")),
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil),
		)
		req := ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)}
		bg := context.Background()

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), req)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.ErrorContains(err, "clock-in not recorded")

		_, err = s.stores.Records.FindByVisitID(bg, s.visit.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		entries, err := s.stores.Entries.ListByVisit(bg, s.visit.ID)
		s.Require().NoError(err)
		s.Empty(entries)
		fence, err := s.stores.Geofences.FindByAddressKey(bg, models.AddressKey(s.visit.ServiceAddress))
		s.Require().NoError(err)
		s.Zero(fence.VerificationCount)

		res, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled.Add(time.Minute)), req)
		s.Require().NoError(err)
		s.Equal(models.RecordPending, res.Record.RecordStatus)
		fence, err = s.stores.Geofences.FindByID(bg, res.Record.GeofenceID)
		s.Require().NoError(err)
		s.Equal(int64(1), fence.VerificationCount)
	})
}

func (s *ServiceSuite) TestConcurrentClockInsForOneVisit() {
	s.expectCollaborators()
	s.expectAudit()

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(5)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(attempts-1, conflicts)
	entries, err := s.stores.Entries.ListByVisit(context.Background(), s.visit.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *ServiceSuite) TestClockOut() {
	s.Run("completes the record", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		res, err := s.svc.ClockOut(s.caregiverCtx(s.scheduled.Add(2*time.Hour+time.Minute)), ClockOutRequest{
			VisitID:     s.visit.ID,
			Location:    s.atCenter(6),
			Attestation: &AttestationInput{SignedBy: "Ada Client", Signature: "data:image/png;base64,AAAA"},
		})
		s.Require().NoError(err)

		s.Equal(in.Record.ID, res.Record.ID)
		s.Equal(models.RecordComplete, res.Record.RecordStatus)
		s.Require().NotNil(res.Record.TotalDurationMinutes)
		s.Equal(119, *res.Record.TotalDurationMinutes)
		s.NotEmpty(res.Record.IntegrityChecksum)
		s.Require().NotNil(res.Record.Attestation)
		s.Equal(models.HashSignature("data:image/png;base64,AAAA"), res.Record.Attestation.SignatureHash)
		s.Equal(models.EntryClockOut, res.Entry.EntryType)

		stored, err := s.stores.Records.FindByID(context.Background(), res.Record.ID)
		s.Require().NoError(err)
		s.True(models.VerifyIntegrity(stored))
		s.Equal(int64(2), stored.Version)

		entries, err := s.svc.ListTimeEntries(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), res.Record.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(models.EntryClockIn, entries[0].EntryType)
		s.Equal(models.EntryClockOut, entries[1].EntryType)
	})

	s.Run("second clock-out is a conflict", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))

		_, err := s.svc.ClockOut(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), ClockOutRequest{VisitID: s.visit.ID, Location: s.atCenter(8)})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.ErrorContains(err, "visit already clocked out")
	})

	s.Run("clock-in after completion reports clocked out", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))

		_, err := s.svc.ClockIn(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), ClockInRequest{VisitID: s.visit.ID, Location: s.atCenter(8)})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.ErrorContains(err, "visit already clocked out")
	})

	s.Run("without clock-in", func() {
		s.SetupTest()
		_, err := s.svc.ClockOut(s.caregiverCtx(s.scheduled), ClockOutRequest{VisitID: s.visit.ID, Location: s.atCenter(8)})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("clock-out before clock-in time", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		s.clockIn(s.atCenter(8))

		_, err := s.svc.ClockOut(s.caregiverCtx(s.scheduled), ClockOutRequest{VisitID: s.visit.ID, Location: s.atCenter(8)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestOverrideTimeEntry() {
	s.Run("supervisor accepts a failed verification", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.offset(400, 10))

		entry, err := s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled.Add(time.Hour)), OverrideRequest{
			EntryID: in.Entry.ID,
			Reason:  "client moved to daughter's home for the week",
		})
		s.Require().NoError(err)

		s.Equal(models.EntryOverridden, entry.Status)
		s.True(entry.Verification.VerificationPassed)
		s.True(entry.Verification.ManualOverride)
		s.Require().NotNil(entry.Override)
		s.False(entry.Override.OriginalVerification.VerificationPassed)
		s.Equal(models.ValidationOutsideGeofence, entry.Override.OriginalVerification.ValidationType)
		s.Equal(models.EntryFlagged, entry.Override.PreviousStatus)
		s.Equal(in.Entry.Hash, entry.Hash)

		record, err := s.stores.Records.FindByID(context.Background(), in.Record.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationManual, record.VerificationLevel)
		s.True(record.ClockInVerification.ManualOverride)
		s.True(models.VerifyIntegrity(record))
	})

	s.Run("caregivers may not override", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.offset(400, 10))

		_, err := s.svc.OverrideTimeEntry(s.caregiverCtx(s.scheduled), OverrideRequest{EntryID: in.Entry.ID, Reason: "mine"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("reason is required", func() {
		s.SetupTest()
		_, err := s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled), OverrideRequest{EntryID: id.NewTimeEntryID(), Reason: "  "})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("verified entries have nothing to override", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(5))

		_, err := s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled), OverrideRequest{EntryID: in.Entry.ID, Reason: "n/a"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("audit failure keeps the entry flagged", func() {
		s.SetupTest()
		s.expectCollaborators()
		gomock.InOrder(
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil),
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down")),
		)
		in := s.clockIn(s.offset(400, 10))

		_, err := s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled.Add(time.Hour)), OverrideRequest{EntryID: in.Entry.ID, Reason: "confirmed by phone"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		entry, err := s.stores.Entries.FindByID(context.Background(), in.Entry.ID)
		s.Require().NoError(err)
		s.Equal(models.EntryFlagged, entry.Status)
		s.Nil(entry.Override)
		record, err := s.stores.Records.FindByID(context.Background(), in.Record.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationPartial, record.VerificationLevel)
		s.Equal(in.Record.Version, record.Version)
	})

	s.Run("override is applied once", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.offset(400, 10))
		req := OverrideRequest{EntryID: in.Entry.ID, Reason: "confirmed by phone"}

		_, err := s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled), req)
		s.Require().NoError(err)
		_, err = s.svc.OverrideTimeEntry(s.supervisorCtx(s.scheduled), req)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestComplianceAndSubmission() {
	s.Run("compliant visit is submitted", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))

		res, err := s.svc.EvaluateCompliance(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), in.Record.ID)
		s.Require().NoError(err)
		s.Equal(models.LevelCompliant, res.ComplianceLevel)
		s.Equal([]compliance.Flag{compliance.FlagCompliant, compliance.FlagAggregatorReady}, res.Flags)
		s.Empty(res.Recommendations)

		stored, err := s.stores.Records.FindByID(context.Background(), in.Record.ID)
		s.Require().NoError(err)
		s.Equal([]string{"COMPLIANT", "AGGREGATOR_READY"}, stored.ComplianceFlags)
		s.True(models.VerifyIntegrity(stored))

		submitted, _, err := s.svc.SubmitToAggregator(s.supervisorCtx(s.scheduled.Add(4*time.Hour)), in.Record.ID)
		s.Require().NoError(err)
		s.Equal(models.RecordSubmitted, submitted.RecordStatus)
		s.NotNil(submitted.SubmittedAt)
	})

	s.Run("incomplete visit is flagged and cannot be submitted", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		res, err := s.svc.EvaluateCompliance(s.caregiverCtx(s.scheduled.Add(time.Hour)), in.Record.ID)
		s.Require().NoError(err)
		s.True(res.HasFlag(compliance.FlagIncompleteVisit))

		_, _, err = s.svc.SubmitToAggregator(s.supervisorCtx(s.scheduled.Add(time.Hour)), in.Record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("geofence warning blocks submission", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.offset(120, 30))
		s.clockOut(s.atCenter(8))

		_, res, err := s.svc.SubmitToAggregator(s.supervisorCtx(s.scheduled.Add(4*time.Hour)), in.Record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Require().NotNil(res)
		s.True(res.HasFlag(compliance.FlagGeofenceWarning))
	})

	s.Run("evaluation still answers when its audit event is lost", func() {
		s.SetupTest()
		s.expectCollaborators()
		gomock.InOrder(
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2),
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventComplianceEvaluated), e.Action)
				return errors.New("audit store down")
			}),
		)
		in := s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))

		res, err := s.svc.EvaluateCompliance(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), in.Record.ID)
		s.Require().NoError(err)
		s.True(res.IsCompliant)
		stored, err := s.stores.Records.FindByID(context.Background(), in.Record.ID)
		s.Require().NoError(err)
		s.Equal([]string{"COMPLIANT", "AGGREGATOR_READY"}, stored.ComplianceFlags)
	})

	s.Run("other caregivers cannot see the record", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		ctx := requestcontext.WithActor(context.Background(), id.NewUserID(), requestcontext.RoleCaregiver, id.NewCaregiverID())
		_, err := s.svc.GetRecord(ctx, in.Record.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestTransitionStatus() {
	submit := func() *models.EVVRecord {
		in := s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))
		rec, _, err := s.svc.SubmitToAggregator(s.supervisorCtx(s.scheduled.Add(4*time.Hour)), in.Record.ID)
		s.Require().NoError(err)
		return rec
	}

	s.Run("review approves a submitted record", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		rec := submit()

		updated, err := s.svc.TransitionStatus(s.supervisorCtx(s.scheduled.Add(24*time.Hour)), StatusChangeRequest{
			RecordID: rec.ID, Status: models.RecordApproved,
		})
		s.Require().NoError(err)
		s.Equal(models.RecordApproved, updated.RecordStatus)
	})

	s.Run("lifecycle violations are conflicts", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		_, err := s.svc.TransitionStatus(s.supervisorCtx(s.scheduled.Add(time.Hour)), StatusChangeRequest{
			RecordID: in.Record.ID, Status: models.RecordApproved,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("submitted cannot be set directly", func() {
		s.SetupTest()
		_, err := s.svc.TransitionStatus(s.supervisorCtx(s.scheduled), StatusChangeRequest{
			RecordID: id.NewRecordID(), Status: models.RecordSubmitted,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("aged records require an unlock request except for voiding", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		rec := submit()
		later := s.scheduled.Add(31 * 24 * time.Hour)

		_, err := s.svc.TransitionStatus(s.supervisorCtx(later), StatusChangeRequest{RecordID: rec.ID, Status: models.RecordAmended})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.ErrorContains(err, "unlock request")

		voided, err := s.svc.TransitionStatus(s.supervisorCtx(later), StatusChangeRequest{RecordID: rec.ID, Status: models.RecordVoided, Reason: "duplicate visit"})
		s.Require().NoError(err)
		s.Equal(models.RecordVoided, voided.RecordStatus)
	})

	s.Run("audit failure keeps the previous status", func() {
		s.SetupTest()
		s.expectCollaborators()
		gomock.InOrder(
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(3),
			s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down")),
		)
		rec := submit()

		_, err := s.svc.TransitionStatus(s.supervisorCtx(s.scheduled.Add(24*time.Hour)), StatusChangeRequest{RecordID: rec.ID, Status: models.RecordApproved})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		stored, err := s.stores.Records.FindByID(context.Background(), rec.ID)
		s.Require().NoError(err)
		s.Equal(models.RecordSubmitted, stored.RecordStatus)
		s.Equal(rec.Version, stored.Version)
	})

	s.Run("caregivers cannot review", func() {
		s.SetupTest()
		_, err := s.svc.TransitionStatus(s.caregiverCtx(s.scheduled), StatusChangeRequest{RecordID: id.NewRecordID(), Status: models.RecordApproved})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestUpdateCaregiverNotes() {
	s.Run("pending record takes notes at its current version", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		updated, err := s.svc.UpdateCaregiverNotes(s.caregiverCtx(s.scheduled.Add(time.Hour)), in.Record.ID, in.Record.Version, "  client asleep on arrival ")
		s.Require().NoError(err)
		s.Equal("client asleep on arrival", updated.CaregiverNotes)
		s.Equal(in.Record.Version+1, updated.Version)
		s.Equal(in.Record.ClockInTime, updated.ClockInTime)
		s.True(models.VerifyIntegrity(updated))
	})

	s.Run("completed record keeps its checksum", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		s.clockIn(s.atCenter(8))
		out := s.clockOut(s.atCenter(8))
		s.Require().NotEmpty(out.Record.IntegrityChecksum)

		updated, err := s.svc.UpdateCaregiverNotes(s.caregiverCtx(s.scheduled.Add(3*time.Hour)), out.Record.ID, out.Record.Version, "client asleep on arrival")
		s.Require().NoError(err)
		s.Equal(models.RecordComplete, updated.RecordStatus)
		s.True(models.VerifyIntegrity(updated), "notes are outside the digests")
	})

	s.Run("stale version is a retryable conflict", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		_, err := s.svc.UpdateCaregiverNotes(s.caregiverCtx(s.scheduled.Add(time.Hour)), in.Record.ID, in.Record.Version-1, "late")
		s.ErrorIs(err, sentinel.ErrConflict)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("submitted record refuses notes", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))
		s.clockOut(s.atCenter(8))
		rec, _, err := s.svc.SubmitToAggregator(s.supervisorCtx(s.scheduled.Add(4*time.Hour)), in.Record.ID)
		s.Require().NoError(err)

		_, err = s.svc.UpdateCaregiverNotes(s.caregiverCtx(s.scheduled.Add(5*time.Hour)), rec.ID, rec.Version, "too late")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.NotErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("another caregiver cannot see the record", func() {
		s.SetupTest()
		s.expectCollaborators()
		s.expectAudit()
		in := s.clockIn(s.atCenter(8))

		other := requestcontext.WithTime(testutil.CaregiverContext(id.NewUserID(), id.NewCaregiverID()), s.scheduled)
		_, err := s.svc.UpdateCaregiverNotes(other, in.Record.ID, in.Record.Version, "not mine")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
