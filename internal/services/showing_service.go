package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

// IShowingService owns agent registrations for showings.
type IShowingService interface {
	Register(ctx context.Context, caseID string, agent *models.User) (*models.ShowingRegistration, error)
	GetRegistrations(ctx context.Context, caseID string) ([]models.ShowingRegistration, error)
	GetRegistrationsForAgent(ctx context.Context, agentID string) ([]models.ShowingRegistration, error)
}

type showingService struct {
	store   kvstore.Store
	bus     events.Publisher
	caseSvc ICaseService
	mu      sync.Mutex
}

// NewShowingService creates a new ShowingService.
func NewShowingService(store kvstore.Store, bus events.Publisher, caseSvc ICaseService) IShowingService {
	return &showingService{store: store, bus: bus, caseSvc: caseSvc}
}

// Register signs agent up for the case's showing. A second registration for the
// same (case, agent) pair is rejected with ErrAlreadyRegistered.
func (s *showingService) Register(ctx context.Context, caseID string, agent *models.User) (*models.ShowingRegistration, error) {
	if _, err := openCase(ctx, s.caseSvc, caseID, models.CaseStatus.IsClosed); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, err := openCase(ctx, s.caseSvc, caseID, models.CaseStatus.IsClosed); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	regs, err := loadList[models.ShowingRegistration](ctx, s.store, models.KeyShowingRegistrations)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, r := range regs {
		if r.CaseID == caseID && r.AgentID == agent.ID {
			s.mu.Unlock()
			return nil, ErrAlreadyRegistered
		}
	}

	reg := models.ShowingRegistration{
		ID:           utils.NewID(),
		CaseID:       caseID,
		AgentID:      agent.ID,
		AgentName:    agent.Name,
		AgencyName:   agent.Company,
		RegisteredAt: time.Now().UTC(),
	}
	regs = append(regs, reg)
	err = saveList(ctx, s.store, models.KeyShowingRegistrations, regs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error saving registration for case %s: %w", caseID, err)
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.AgentRegistered, Entity: "registration", EntityID: reg.ID, Payload: reg})
	return &reg, nil
}

func (s *showingService) GetRegistrations(ctx context.Context, caseID string) ([]models.ShowingRegistration, error) {
	return s.filter(ctx, func(r models.ShowingRegistration) bool { return r.CaseID == caseID })
}

func (s *showingService) GetRegistrationsForAgent(ctx context.Context, agentID string) ([]models.ShowingRegistration, error) {
	return s.filter(ctx, func(r models.ShowingRegistration) bool { return r.AgentID == agentID })
}

func (s *showingService) filter(ctx context.Context, keep func(models.ShowingRegistration) bool) ([]models.ShowingRegistration, error) {
	regs, err := loadList[models.ShowingRegistration](ctx, s.store, models.KeyShowingRegistrations)
	if err != nil {
		return nil, err
	}
	out := make([]models.ShowingRegistration, 0)
	for _, r := range regs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
