package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/models"
)

func validOffer(price string) models.NewOfferInput {
	return models.NewOfferInput{
		ExpectedPrice: price,
		Commission:    "45.000 kr",
		BindingPeriod: "6 måneder",
		Marketing: []models.MarketingItem{
			{ID: "photo", Name: "Professionel fotografering", Cost: 3500, Included: true},
		},
		SalesStrategy: "Åbent hus første weekend",
	}
}

func TestOfferService_SubmitOffer(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	offer, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.000.000 kr"))
	require.NoError(t, err)
	assert.Equal(t, 3000000.0, offer.PriceValue)
	assert.Equal(t, 45000.0, offer.CommissionValue)
	assert.InDelta(t, 1.5, offer.CommissionPercent(), 1e-9)
	assert.Equal(t, models.OfferPending, offer.Status)
	assert.Equal(t, "Mægler & Co", offer.AgencyName)

	got, err := env.svc.Cases.GetCaseByID(env.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseOffersReceived, got.Status)

	states, err := env.svc.Offers.GetAgentCaseStates(env.ctx, agent.ID)
	require.NoError(t, err)
	require.Contains(t, states, c.ID)
	assert.Equal(t, models.AgentStatusSubmitted, states[c.ID].AgentStatus)
	require.NotNil(t, states[c.ID].AgentOffer)
	assert.Equal(t, offer.ID, states[c.ID].AgentOffer.ID)
}

func TestOfferService_ResubmitReplacesPendingOffer(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	first, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.000.000 kr"))
	require.NoError(t, err)
	second, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.100.000 kr"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	offers, err := env.svc.Offers.GetOffersForCase(env.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 3100000.0, offers[0].PriceValue)
}

func TestOfferService_SubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	_, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, models.NewOfferInput{ExpectedPrice: "kr"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "expectedPrice")
	assert.Contains(t, verr.Fields, "commission")
	assert.Contains(t, verr.Fields, "bindingPeriod")

	_, err = env.svc.Offers.SubmitOffer(env.ctx, "missing", agent, validOffer("1 kr"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Cases.UpdateStatus(env.ctx, c.ID, models.CaseWithdrawn)
	require.NoError(t, err)
	_, err = env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.000.000 kr"))
	assert.ErrorIs(t, err, ErrCaseClosed)
}

func TestOfferService_AcceptRejectsTheRest(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	a1 := env.createUser(t, "a1@example.com", models.RoleAgent)
	a2 := env.createUser(t, "a2@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	o1, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, a1, validOffer("3.000.000 kr"))
	require.NoError(t, err)
	o2, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, a2, validOffer("2.900.000 kr"))
	require.NoError(t, err)

	_, err = env.svc.Offers.AcceptOffer(env.ctx, o1.ID, a2.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	accepted, err := env.svc.Offers.AcceptOffer(env.ctx, o1.ID, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, accepted.Status)

	offers, err := env.svc.Offers.GetOffersForCase(env.ctx, c.ID)
	require.NoError(t, err)
	statuses := map[string]models.OfferStatus{}
	for _, o := range offers {
		statuses[o.ID] = o.Status
	}
	assert.Equal(t, models.OfferAccepted, statuses[o1.ID])
	assert.Equal(t, models.OfferRejected, statuses[o2.ID])

	got, err := env.svc.Cases.GetCaseByID(env.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseRealtorSelected, got.Status)

	s1, err := env.svc.Offers.GetAgentCaseStates(env.ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusAccepted, s1[c.ID].AgentStatus)
	s2, err := env.svc.Offers.GetAgentCaseStates(env.ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusRejected, s2[c.ID].AgentStatus)
	assert.NotNil(t, s2[c.ID].RejectedAt)

	_, err = env.svc.Offers.RejectOffer(env.ctx, o2.ID, seller.ID)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr, "offer is no longer pending")
}

func TestOfferService_RejectOffer(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")
	o, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.000.000 kr"))
	require.NoError(t, err)

	rejected, err := env.svc.Offers.RejectOffer(env.ctx, o.ID, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, rejected.Status)

	mine, err := env.svc.Offers.GetOffersForAgent(env.ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.OfferRejected, mine[0].Status)

	_, err = env.svc.Offers.RejectOffer(env.ctx, "missing", seller.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOfferService_RejectCase(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	require.NoError(t, env.svc.Offers.RejectCase(env.ctx, c.ID, agent.ID))
	states, err := env.svc.Offers.GetAgentCaseStates(env.ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusRejected, states[c.ID].AgentStatus)
	assert.Nil(t, states[c.ID].AgentOffer)

	other, err := env.svc.Offers.GetAgentCaseStates(env.ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOfferService_WithdrawDuringSubmitIsHonoured(t *testing.T) {
	env, store := newHookEnv(t)
	seller := env.createUser(t, "seller@example.com", models.RoleSeller)
	agent := env.createUser(t, "agent@example.com", models.RoleAgent)
	c := env.createCase(t, seller.ID, "Vej 1")

	closeErr := closeCaseDuring(t, env, store, c.ID, models.CaseWithdrawn)
	_, err := env.svc.Offers.SubmitOffer(env.ctx, c.ID, agent, validOffer("3.100.000 kr"))
	require.NoError(t, *closeErr)
	assert.ErrorIs(t, err, ErrCaseClosed)

	offers, err := env.svc.Offers.GetOffersForCase(env.ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, offers)
}
