package views

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"boligmarked/market/internal/auth"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
)

func init() {
	auth.HashCost = bcrypt.MinCost
}

type fixture struct {
	ctx   context.Context
	store *kvstore.MemoryStore
	bus   *events.Bus
	svc   *services.Services
	b     *Builder
}

func newFixture() *fixture {
	store := kvstore.NewMemoryStore()
	bus := events.NewBus("test")
	svc := services.New(store, bus)
	return &fixture{ctx: context.Background(), store: store, bus: bus, svc: svc, b: NewBuilder(svc)}
}

func (f *fixture) user(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	u, err := f.svc.Users.CreateUser(f.ctx, models.NewUserInput{
		Email: email, Password: "hemmelig1", Role: role, Name: email, Company: "Nordbolig",
	}, models.SourceSignup)
	require.NoError(t, err)
	return u
}

func (f *fixture) newCase(t *testing.T, sellerID, address string) *models.Case {
	t.Helper()
	c, err := f.svc.Cases.CreateCase(f.ctx, sellerID, models.NewCaseInput{Address: address, Price: "2.750.000 kr"})
	require.NoError(t, err)
	return c
}

func offer() models.NewOfferInput {
	return models.NewOfferInput{ExpectedPrice: "2.800.000 kr", Commission: "39.000 kr", BindingPeriod: "6 måneder"}
}

func TestAgentCaseList_MergesAgentState(t *testing.T) {
	f := newFixture()
	seller := f.user(t, "seller@example.com", models.RoleSeller)
	agent := f.user(t, "agent@example.com", models.RoleAgent)
	rival := f.user(t, "rival@example.com", models.RoleAgent)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal([]models.Case{
		{ID: "c-old", SellerID: seller.ID, Address: "Gammel Vej 1", Status: models.CaseActive, CreatedAt: base},
		{ID: "c-new", SellerID: seller.ID, Address: "Ny Vej 2", Status: models.CaseActive, CreatedAt: base.Add(time.Hour)},
		{ID: "c-draft", SellerID: seller.ID, Address: "Kladde 3", Status: models.CaseDraft, CreatedAt: base},
		{ID: "c-gone", SellerID: seller.ID, Address: "Trukket 4", Status: models.CaseWithdrawn, CreatedAt: base},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Set(f.ctx, models.KeyCases, string(raw)))

	_, err = f.svc.Offers.SubmitOffer(f.ctx, "c-old", agent, offer())
	require.NoError(t, err)
	_, err = f.svc.Offers.SubmitOffer(f.ctx, "c-old", rival, offer())
	require.NoError(t, err)
	_, err = f.svc.Showings.Register(f.ctx, "c-new", agent)
	require.NoError(t, err)

	rows, err := f.b.AgentCaseList(f.ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2, "draft and withdrawn cases stay hidden")

	assert.Equal(t, "c-new", rows[0].ID, "newest first")
	assert.True(t, rows[0].Registered)
	assert.Empty(t, rows[0].AgentStatus)
	assert.Nil(t, rows[0].MyOffer)

	assert.Equal(t, "c-old", rows[1].ID)
	assert.Equal(t, models.AgentStatusSubmitted, rows[1].AgentStatus)
	require.NotNil(t, rows[1].MyOffer)
	assert.Equal(t, agent.ID, rows[1].MyOffer.AgentID)
	assert.Equal(t, 2, rows[1].OfferCount)
	assert.False(t, rows[1].Registered)
}

func TestAgentCaseList_KeepsCasesTheAgentActedOn(t *testing.T) {
	f := newFixture()
	seller := f.user(t, "seller@example.com", models.RoleSeller)
	agent := f.user(t, "agent@example.com", models.RoleAgent)
	c := f.newCase(t, seller.ID, "Havnegade 5")

	_, err := f.svc.Offers.SubmitOffer(f.ctx, c.ID, agent, offer())
	require.NoError(t, err)
	_, err = f.svc.Cases.UpdateStatus(f.ctx, c.ID, models.CaseArchived)
	require.NoError(t, err)

	rows, err := f.b.AgentCaseList(f.ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.CaseArchived, rows[0].Status)

	other := f.user(t, "other@example.com", models.RoleAgent)
	rows, err = f.b.AgentCaseList(f.ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSellerDashboard_Counts(t *testing.T) {
	f := newFixture()
	seller := f.user(t, "seller@example.com", models.RoleSeller)
	agent := f.user(t, "agent@example.com", models.RoleAgent)
	c1 := f.newCase(t, seller.ID, "Vej 1")
	c2 := f.newCase(t, seller.ID, "Vej 2")

	_, err := f.svc.Offers.SubmitOffer(f.ctx, c1.ID, agent, offer())
	require.NoError(t, err)
	_, err = f.svc.Showings.Register(f.ctx, c1.ID, agent)
	require.NoError(t, err)
	m, err := f.svc.Messages.SendMessage(f.ctx, c1.ID, agent, "", "Hej")
	require.NoError(t, err)
	_, err = f.svc.Messages.SendMessage(f.ctx, c2.ID, agent, "", "Hej igen")
	require.NoError(t, err)

	dash, err := f.b.SellerDashboard(f.ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, dash.Cases, 2)
	assert.Equal(t, 2, dash.UnreadMessages)

	byID := map[string]SellerCase{}
	for _, sc := range dash.Cases {
		byID[sc.ID] = sc
	}
	assert.Equal(t, 1, byID[c1.ID].PendingOffers)
	assert.Equal(t, 1, byID[c1.ID].Registrations)
	assert.Equal(t, 1, byID[c1.ID].UnreadMessages)
	assert.Equal(t, 0, byID[c2.ID].PendingOffers)

	require.NoError(t, f.svc.Messages.MarkRead(f.ctx, m.ID, seller.ID))
	dash, err = f.b.SellerDashboard(f.ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.UnreadMessages)
}

func TestAdminOverview(t *testing.T) {
	f := newFixture()
	seller := f.user(t, "seller@example.com", models.RoleSeller)
	agent := f.user(t, "agent@example.com", models.RoleAgent)
	f.user(t, "idle@example.com", models.RoleAgent)
	c := f.newCase(t, seller.ID, "Vej 1")
	f.newCase(t, seller.ID, "Vej 2")
	_, err := f.svc.Offers.SubmitOffer(f.ctx, c.ID, agent, offer())
	require.NoError(t, err)

	ov, err := f.b.AdminOverview(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.Users)
	assert.Equal(t, 2, ov.UsersByRole[models.RoleAgent])
	assert.Equal(t, 2, ov.Cases)
	assert.Equal(t, 1, ov.CasesByStatus[models.CaseActive])
	assert.Equal(t, 1, ov.CasesByStatus[models.CaseOffersReceived])
	assert.Equal(t, 1, ov.PendingOffers)
	assert.Zero(t, ov.LegacyUsers)
}

func TestWatchAdminOverview_RefreshesOnWrite(t *testing.T) {
	f := newFixture()
	seller := f.user(t, "seller@example.com", models.RoleSeller)

	w := f.b.WatchAdminOverview(f.bus, 0)
	w.Start(f.ctx)
	defer w.Stop()

	ov, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 0, ov.Cases)

	f.newCase(t, seller.ID, "Vej 1")
	assert.Eventually(t, func() bool {
		ov, _ := w.Latest()
		return ov.Cases == 1
	}, 2*time.Second, 10*time.Millisecond)
}
