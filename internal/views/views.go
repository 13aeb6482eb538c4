// Package views builds the read models the API serves. Every view is a full
// re-query of the repositories.
package views

import (
	"context"
	"sort"
	"time"

	"boligmarked/market/internal/events"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/watch"
)

// AgentCase is one row of an agent's case list.
type AgentCase struct {
	models.Case
	AgentStatus models.AgentStatus `json:"agentStatus,omitempty"`
	MyOffer     *models.Offer      `json:"myOffer,omitempty"`
	Registered  bool               `json:"registered"`
	OfferCount  int                `json:"offerCount"`
}

// SellerCase is one case on the seller dashboard.
type SellerCase struct {
	models.Case
	PendingOffers  int `json:"pendingOffers"`
	Registrations  int `json:"registrations"`
	UnreadMessages int `json:"unreadMessages"`
}

// SellerDashboard is everything a seller sees on login.
type SellerDashboard struct {
	Cases          []SellerCase `json:"cases"`
	UnreadMessages int          `json:"unreadMessages"`
}

// AdminOverview aggregates counts across the marketplace.
type AdminOverview struct {
	Users         int                       `json:"users"`
	UsersByRole   map[models.Role]int       `json:"usersByRole"`
	InactiveUsers int                       `json:"inactiveUsers"`
	LegacyUsers   int                       `json:"legacyUsers"`
	Cases         int                       `json:"cases"`
	CasesByStatus map[models.CaseStatus]int `json:"casesByStatus"`
	PendingOffers int                       `json:"pendingOffers"`
	GeneratedAt   time.Time                 `json:"generatedAt"`
}

// Builder computes views from the services.
type Builder struct {
	svc *services.Services
}

// NewBuilder creates a view builder.
func NewBuilder(svc *services.Services) *Builder {
	return &Builder{svc: svc}
}

// agentVisible lists the statuses an agent can browse.
var agentVisible = map[models.CaseStatus]bool{
	models.CaseActive:           true,
	models.CaseShowingBooked:    true,
	models.CaseShowingCompleted: true,
	models.CaseOffersReceived:   true,
	models.CaseRealtorSelected:  true,
}

// AgentCaseList merges the open cases with the agent's own state on each.
// Newest cases come first.
func (b *Builder) AgentCaseList(ctx context.Context, agentID string) ([]AgentCase, error) {
	cases, err := b.svc.Cases.GetAllCases(ctx)
	if err != nil {
		return nil, err
	}
	states, err := b.svc.Offers.GetAgentCaseStates(ctx, agentID)
	if err != nil {
		return nil, err
	}
	regs, err := b.svc.Showings.GetRegistrationsForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	registered := make(map[string]bool, len(regs))
	for _, r := range regs {
		registered[r.CaseID] = true
	}

	out := make([]AgentCase, 0, len(cases))
	for _, c := range cases {
		st, hasState := states[c.ID]
		if !agentVisible[c.Status] && !hasState {
			continue
		}
		offers, err := b.svc.Offers.GetOffersForCase(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		row := AgentCase{Case: c, Registered: registered[c.ID], OfferCount: len(offers)}
		if hasState {
			row.AgentStatus = st.AgentStatus
			row.MyOffer = st.AgentOffer
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SellerDashboard lists the seller's cases with their activity counts.
func (b *Builder) SellerDashboard(ctx context.Context, sellerID string) (*SellerDashboard, error) {
	cases, err := b.svc.Cases.GetCasesForUser(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	inbox, err := b.svc.Messages.GetMessagesForUser(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	unread := map[string]int{}
	total := 0
	for _, m := range inbox {
		if m.ToUserID == sellerID && !m.Read {
			unread[m.CaseID]++
			total++
		}
	}

	dash := &SellerDashboard{Cases: make([]SellerCase, 0, len(cases)), UnreadMessages: total}
	for _, c := range cases {
		offers, err := b.svc.Offers.GetOffersForCase(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		pending := 0
		for _, o := range offers {
			if o.Status == models.OfferPending {
				pending++
			}
		}
		regs, err := b.svc.Showings.GetRegistrations(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		dash.Cases = append(dash.Cases, SellerCase{
			Case:           c,
			PendingOffers:  pending,
			Registrations:  len(regs),
			UnreadMessages: unread[c.ID],
		})
	}
	return dash, nil
}

// AdminOverview counts users and visible cases.
func (b *Builder) AdminOverview(ctx context.Context) (*AdminOverview, error) {
	users, err := b.svc.Users.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := b.svc.Cases.GetAllCases(ctx)
	if err != nil {
		return nil, err
	}

	ov := &AdminOverview{
		Users:         len(users),
		UsersByRole:   map[models.Role]int{},
		Cases:         len(cases),
		CasesByStatus: map[models.CaseStatus]int{},
		GeneratedAt:   time.Now().UTC(),
	}
	for _, u := range users {
		ov.UsersByRole[u.Role]++
		if !u.Active() {
			ov.InactiveUsers++
		}
		if u.Source == models.SourceLegacy {
			ov.LegacyUsers++
		}
	}
	for _, c := range cases {
		ov.CasesByStatus[c.Status]++
		offers, err := b.svc.Offers.GetOffersForCase(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			if o.Status == models.OfferPending {
				ov.PendingOffers++
			}
		}
	}
	return ov, nil
}

// WatchAdminOverview keeps the admin overview warm. It refreshes on any write
// and every interval.
func (b *Builder) WatchAdminOverview(bus *events.Bus, interval time.Duration) *watch.Watcher[*AdminOverview] {
	return watch.New[*AdminOverview]("admin-overview", b.AdminOverview, bus, interval)
}
