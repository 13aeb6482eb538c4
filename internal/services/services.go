package services

import (
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
)

// Services bundles the repositories built over one store and bus.
type Services struct {
	Users    IUserService
	Cases    ICaseService
	Forms    IFormService
	Offers   IOfferService
	Showings IShowingService
	Messages IMessageService
}

// New wires every service, resolving the user/case/message/form cycles with setters.
func New(store kvstore.Store, bus events.Publisher) *Services {
	users := NewUserService(store, bus, nil)
	cases := NewCaseService(store, bus, users)
	users.SetCaseService(cases)

	forms := NewFormService(store, bus, cases)
	cases.SetFormService(forms)

	messages := NewMessageService(store, bus, cases, users)
	cases.SetMessageService(messages)

	return &Services{
		Users:    users,
		Cases:    cases,
		Forms:    forms,
		Offers:   NewOfferService(store, bus, cases),
		Showings: NewShowingService(store, bus, cases),
		Messages: messages,
	}
}
