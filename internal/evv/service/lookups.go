package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"evv/internal/evv/ports"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/sentinel"
)

// visitContext is everything clock-in needs from collaborators.
type visitContext struct {
	visit         *ports.Visit
	client        *ports.Client
	caregiver     *ports.Caregiver
	authorization *ports.Authorization
}

func (s *Service) lookupVisit(ctx context.Context, visitID id.VisitID) (*ports.Visit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.collaboratorTimeout)
	defer cancel()

	start := time.Now()
	visit, err := s.visits.GetVisit(ctx, visitID)
	s.metrics.ObserveLookup("visit", time.Since(start))
	if err != nil {
		return nil, translateLookupError(err, "visit")
	}
	return visit, nil
}

// gatherVisitContext fetches the client, caregiver and service authorization
// in parallel. The first failure cancels the others.
func (s *Service) gatherVisitContext(ctx context.Context, visit *ports.Visit) (*visitContext, error) {
	ctx, cancel := context.WithTimeout(ctx, s.collaboratorTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	vc := &visitContext{visit: visit}

	g.Go(func() error {
		start := time.Now()
		client, err := s.clients.GetClient(ctx, visit.ClientID)
		s.metrics.ObserveLookup("client", time.Since(start))
		if err != nil {
			return translateLookupError(err, "client")
		}
		vc.client = client
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		caregiver, err := s.caregivers.GetCaregiver(ctx, visit.AssignedCaregiverID)
		s.metrics.ObserveLookup("caregiver", time.Since(start))
		if err != nil {
			return translateLookupError(err, "caregiver")
		}
		vc.caregiver = caregiver
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		auth, err := s.authz.CanProvideService(ctx, visit.AssignedCaregiverID, visit.ServiceTypeCode, visit.ClientID)
		s.metrics.ObserveLookup("authorization", time.Since(start))
		if err != nil {
			return translateLookupError(err, "service authorization")
		}
		vc.authorization = auth
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vc, nil
}

// translateLookupError keeps "offline" distinct from "rejected": collaborator
// outages become CodeUnavailable or CodeTimeout, never a denial.
func translateLookupError(err error, what string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" lookup timed out")
	case errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" lookup cancelled")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, what+" service unavailable")
	}
}

// translateStoreError maps store sentinels for the record being acted on.
func translateStoreError(err error, what string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" was modified concurrently; retry")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, what+" is in an invalid state for this operation")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "evv storage unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "evv storage timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}
