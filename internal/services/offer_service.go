package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

// IOfferService owns the case_offers collection and each agent's case states.
type IOfferService interface {
	SubmitOffer(ctx context.Context, caseID string, agent *models.User, in models.NewOfferInput) (*models.Offer, error)
	GetOffersForCase(ctx context.Context, caseID string) ([]models.Offer, error)
	GetOffersForAgent(ctx context.Context, agentID string) ([]models.Offer, error)
	AcceptOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error)
	RejectOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error)
	GetAgentCaseStates(ctx context.Context, agentID string) (map[string]models.AgentCaseState, error)
	RejectCase(ctx context.Context, caseID, agentID string) error
}

type offerService struct {
	store   kvstore.Store
	bus     events.Publisher
	caseSvc ICaseService
	mu      sync.Mutex
}

// NewOfferService creates a new OfferService.
func NewOfferService(store kvstore.Store, bus events.Publisher, caseSvc ICaseService) IOfferService {
	return &offerService{store: store, bus: bus, caseSvc: caseSvc}
}

func validateOffer(in models.NewOfferInput) error {
	verr := &ValidationError{}
	if utils.ParsePriceValue(in.ExpectedPrice) <= 0 {
		verr.Add("expectedPrice", "required")
	}
	if utils.ParsePriceValue(in.Commission) <= 0 {
		verr.Add("commission", "required")
	}
	if strings.TrimSpace(in.BindingPeriod) == "" {
		verr.Add("bindingPeriod", "required")
	}
	return verr.OrNil()
}

// offersClosed reports whether a case no longer takes offers.
func offersClosed(st models.CaseStatus) bool {
	return st.IsClosed() || st == models.CaseRealtorSelected
}

// SubmitOffer records the agent's offer on a case. An agent has at most one
// pending offer per case; resubmitting replaces it.
func (s *offerService) SubmitOffer(ctx context.Context, caseID string, agent *models.User, in models.NewOfferInput) (*models.Offer, error) {
	if err := validateOffer(in); err != nil {
		return nil, err
	}
	if _, err := openCase(ctx, s.caseSvc, caseID, offersClosed); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	offer := models.Offer{
		ID:              utils.NewID(),
		CaseID:          caseID,
		AgentID:         agent.ID,
		AgentName:       agent.Name,
		AgencyName:      agent.Company,
		ExpectedPrice:   in.ExpectedPrice,
		PriceValue:      utils.ParsePriceValue(in.ExpectedPrice),
		Commission:      in.Commission,
		CommissionValue: utils.ParsePriceValue(in.Commission),
		BindingPeriod:   in.BindingPeriod,
		Marketing:       in.Marketing,
		SalesStrategy:   in.SalesStrategy,
		SubmittedAt:     now,
		Status:          models.OfferPending,
	}

	s.mu.Lock()
	c, err := openCase(ctx, s.caseSvc, caseID, offersClosed)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	offers, err := loadList[models.Offer](ctx, s.store, models.KeyOffers)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	replaced := false
	for i := range offers {
		if offers[i].CaseID == caseID && offers[i].AgentID == agent.ID && offers[i].Status == models.OfferPending {
			offer.ID = offers[i].ID
			offers[i] = offer
			replaced = true
			break
		}
	}
	if !replaced {
		offers = append(offers, offer)
	}
	if err := saveList(ctx, s.store, models.KeyOffers, offers); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("error saving offer on case %s: %w", caseID, err)
	}
	err = s.setAgentState(ctx, agent.ID, caseID, func(st *models.AgentCaseState) {
		st.AgentStatus = models.AgentStatusSubmitted
		st.SubmittedAt = &now
		st.RejectedAt = nil
		o := offer
		st.AgentOffer = &o
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if advancesTo(c.Status, models.CaseOffersReceived) {
		if _, err := s.caseSvc.UpdateStatus(ctx, caseID, models.CaseOffersReceived); err != nil {
			log.Printf("Warning: offer %s saved but moving case %s to offers_received failed: %v", offer.ID, caseID, err)
		}
	}

	evType := events.OfferSubmitted
	if replaced {
		evType = events.OfferUpdated
	}
	events.Notify(ctx, s.bus, events.Event{Type: evType, Entity: "offer", EntityID: offer.ID, Payload: offer})
	return &offer, nil
}

func (s *offerService) GetOffersForCase(ctx context.Context, caseID string) ([]models.Offer, error) {
	return s.filter(ctx, func(o models.Offer) bool { return o.CaseID == caseID })
}

func (s *offerService) GetOffersForAgent(ctx context.Context, agentID string) ([]models.Offer, error) {
	return s.filter(ctx, func(o models.Offer) bool { return o.AgentID == agentID })
}

func (s *offerService) filter(ctx context.Context, keep func(models.Offer) bool) ([]models.Offer, error) {
	offers, err := loadList[models.Offer](ctx, s.store, models.KeyOffers)
	if err != nil {
		return nil, err
	}
	out := make([]models.Offer, 0)
	for _, o := range offers {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// AcceptOffer accepts one pending offer, rejects the other pending offers on the
// same case, and moves the case to realtor_selected.
func (s *offerService) AcceptOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error) {
	s.mu.Lock()
	offers, target, err := s.loadOwnedPending(ctx, offerID, sellerID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	caseID := offers[target].CaseID
	var losers []models.Offer
	for i := range offers {
		if offers[i].CaseID != caseID || offers[i].Status != models.OfferPending {
			continue
		}
		if i == target {
			offers[i].Status = models.OfferAccepted
			continue
		}
		offers[i].Status = models.OfferRejected
		losers = append(losers, offers[i])
	}
	if err := saveList(ctx, s.store, models.KeyOffers, offers); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("error accepting offer %s: %w", offerID, err)
	}

	accepted := offers[target]
	err = s.setAgentState(ctx, accepted.AgentID, caseID, func(st *models.AgentCaseState) {
		st.AgentStatus = models.AgentStatusAccepted
		st.AgentOffer = &accepted
	})
	for _, l := range losers {
		if serr := s.setAgentState(ctx, l.AgentID, caseID, func(st *models.AgentCaseState) {
			st.AgentStatus = models.AgentStatusRejected
			st.RejectedAt = &now
			st.AgentOffer = &l
		}); serr != nil && err == nil {
			err = serr
		}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if _, err := s.caseSvc.UpdateStatus(ctx, caseID, models.CaseRealtorSelected); err != nil {
		return nil, err
	}

	evs := []events.Event{{Type: events.OfferUpdated, Entity: "offer", EntityID: accepted.ID, Payload: accepted}}
	for _, l := range losers {
		evs = append(evs, events.Event{Type: events.OfferUpdated, Entity: "offer", EntityID: l.ID, Payload: l})
	}
	events.Notify(ctx, s.bus, evs...)
	return &accepted, nil
}

// RejectOffer turns down one pending offer.
func (s *offerService) RejectOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error) {
	s.mu.Lock()
	offers, target, err := s.loadOwnedPending(ctx, offerID, sellerID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := time.Now().UTC()
	offers[target].Status = models.OfferRejected
	if err := saveList(ctx, s.store, models.KeyOffers, offers); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("error rejecting offer %s: %w", offerID, err)
	}
	rejected := offers[target]
	err = s.setAgentState(ctx, rejected.AgentID, rejected.CaseID, func(st *models.AgentCaseState) {
		st.AgentStatus = models.AgentStatusRejected
		st.RejectedAt = &now
		st.AgentOffer = &rejected
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.OfferUpdated, Entity: "offer", EntityID: rejected.ID, Payload: rejected})
	return &rejected, nil
}

// loadOwnedPending loads all offers and locates offerID, checking that the
// case belongs to sellerID and the offer is still pending. Caller holds s.mu.
func (s *offerService) loadOwnedPending(ctx context.Context, offerID, sellerID string) ([]models.Offer, int, error) {
	offers, err := loadList[models.Offer](ctx, s.store, models.KeyOffers)
	if err != nil {
		return nil, -1, err
	}
	idx := -1
	for i := range offers {
		if offers[i].ID == offerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, -1, ErrNotFound
	}
	c, err := s.caseSvc.GetCaseByID(ctx, offers[idx].CaseID)
	if err != nil {
		return nil, -1, err
	}
	if c.SellerID != sellerID {
		return nil, -1, ErrForbidden
	}
	if c.Status.IsClosed() {
		return nil, -1, ErrCaseClosed
	}
	if offers[idx].Status != models.OfferPending {
		verr := &ValidationError{}
		verr.Add("status", fmt.Sprintf("offer is already %s", offers[idx].Status))
		return nil, -1, verr
	}
	return offers, idx, nil
}

func (s *offerService) GetAgentCaseStates(ctx context.Context, agentID string) (map[string]models.AgentCaseState, error) {
	states := map[string]models.AgentCaseState{}
	if _, err := kvstore.ReadJSON(ctx, s.store, models.AgentCaseStatesKey(agentID), &states); err != nil {
		return nil, err
	}
	if states == nil {
		states = map[string]models.AgentCaseState{}
	}
	return states, nil
}

// RejectCase records that the agent has declined to bid on a case.
func (s *offerService) RejectCase(ctx context.Context, caseID, agentID string) error {
	if _, err := s.caseSvc.GetCaseByID(ctx, caseID); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	err := s.setAgentState(ctx, agentID, caseID, func(st *models.AgentCaseState) {
		st.AgentStatus = models.AgentStatusRejected
		st.RejectedAt = &now
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	events.Notify(ctx, s.bus, events.Event{Type: events.CasesChanged, Entity: "agentCaseState", EntityID: caseID, Payload: agentID})
	return nil
}

// setAgentState read-modify-writes one entry of the agent's state map. Caller holds s.mu.
func (s *offerService) setAgentState(ctx context.Context, agentID, caseID string, mutate func(*models.AgentCaseState)) error {
	states, err := s.GetAgentCaseStates(ctx, agentID)
	if err != nil {
		return err
	}
	st := states[caseID]
	mutate(&st)
	states[caseID] = st
	if err := kvstore.WriteJSON(ctx, s.store, models.AgentCaseStatesKey(agentID), states); err != nil {
		return fmt.Errorf("error saving case states for agent %s: %w", agentID, err)
	}
	return nil
}
