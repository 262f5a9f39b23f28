// Package directory is an in-process stand-in for the scheduling, client and
// workforce services. It is seeded at startup (or by tests) and answers the
// collaborator ports the capture service depends on.
package directory

import (
	"context"
	"sync"

	"evv/internal/evv/ports"
	id "evv/pkg/domain"
	"evv/pkg/platform/sentinel"
	pstrings "evv/pkg/platform/strings"
)

// ServiceRequirement lists the credential codes a caregiver must hold to
// provide a service type.
type ServiceRequirement struct {
	ServiceTypeCode     string
	RequiredCredentials []string
}

// Directory is safe for concurrent use.
type Directory struct {
	mu           sync.RWMutex
	visits       map[id.VisitID]ports.Visit
	clients      map[id.ClientID]ports.Client
	caregivers   map[id.CaregiverID]ports.Caregiver
	credentials  map[id.CaregiverID][]string
	requirements map[string][]string
	// clientHolds blocks service for a client, e.g. an expired authorization.
	clientHolds map[id.ClientID][]string
	offline     bool
}

func New() *Directory {
	return &Directory{
		visits:       make(map[id.VisitID]ports.Visit),
		clients:      make(map[id.ClientID]ports.Client),
		caregivers:   make(map[id.CaregiverID]ports.Caregiver),
		credentials:  make(map[id.CaregiverID][]string),
		requirements: make(map[string][]string),
		clientHolds:  make(map[id.ClientID][]string),
	}
}

func (d *Directory) PutVisit(v ports.Visit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visits[v.ID] = v
}

func (d *Directory) PutClient(c ports.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c.ID] = c
}

// PutCaregiver stores the caregiver with the credential codes they hold.
func (d *Directory) PutCaregiver(c ports.Caregiver, credentials ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caregivers[c.ID] = c
	d.credentials[c.ID] = pstrings.DedupeAndTrimUpper(credentials)
}

func (d *Directory) PutRequirement(r ServiceRequirement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requirements[r.ServiceTypeCode] = pstrings.DedupeAndTrimUpper(r.RequiredCredentials)
}

// HoldClient blocks all service for the client until ReleaseClient.
func (d *Directory) HoldClient(clientID id.ClientID, reasons ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientHolds[clientID] = pstrings.DedupeAndTrim(append(d.clientHolds[clientID], reasons...))
}

func (d *Directory) ReleaseClient(clientID id.ClientID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clientHolds, clientID)
}

// SetOffline makes every lookup fail with sentinel.ErrUnavailable.
func (d *Directory) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
}

func (d *Directory) GetVisit(ctx context.Context, visitID id.VisitID) (*ports.Visit, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.visits[visitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

func (d *Directory) GetClient(ctx context.Context, clientID id.ClientID) (*ports.Client, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (d *Directory) GetCaregiver(ctx context.Context, caregiverID id.CaregiverID) (*ports.Caregiver, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.caregivers[caregiverID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

// CanProvideService denies when the caregiver lacks a required credential or
// the client is on hold. Unknown service types carry no requirements.
func (d *Directory) CanProvideService(ctx context.Context, caregiverID id.CaregiverID, serviceTypeCode string, clientID id.ClientID) (*ports.Authorization, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.caregivers[caregiverID]; !ok {
		return &ports.Authorization{Authorized: false, Reason: "caregiver not found"}, nil
	}
	if _, ok := d.clients[clientID]; !ok {
		return &ports.Authorization{Authorized: false, Reason: "client not found"}, nil
	}

	held := make(map[string]struct{}, len(d.credentials[caregiverID]))
	for _, c := range d.credentials[caregiverID] {
		held[c] = struct{}{}
	}
	var missing []string
	for _, required := range d.requirements[serviceTypeCode] {
		if _, ok := held[required]; !ok {
			missing = append(missing, required)
		}
	}
	blocked := d.clientHolds[clientID]

	auth := &ports.Authorization{
		Authorized:         len(missing) == 0 && len(blocked) == 0,
		MissingCredentials: missing,
		BlockedReasons:     append([]string(nil), blocked...),
	}
	switch {
	case len(missing) > 0:
		auth.Reason = "caregiver is missing required credentials"
	case len(blocked) > 0:
		auth.Reason = "client service is on hold"
	}
	return auth, nil
}

func (d *Directory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.offline {
		return sentinel.ErrUnavailable
	}
	return nil
}
