package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"boligmarked/market/internal/enrich"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
)

const showingStatusBooked = "booked"
const showingStatusCompleted = "completed"

// IFormService owns the seller's form submissions and the showing schedule.
type IFormService interface {
	SubmitPropertyForm(ctx context.Context, sellerID, caseID string, form models.PropertyForm) (*models.PropertyForm, error)
	SubmitSalePreferences(ctx context.Context, sellerID, caseID string, prefs models.SalePreferences) (*models.SalePreferences, error)
	GetAux(ctx context.Context, caseID, sellerID string) (enrich.Aux, error)
	BindPending(ctx context.Context, sellerID, caseID string) error
	BookShowing(ctx context.Context, caseID string, schedule models.ShowingSchedule) (*models.ShowingSchedule, error)
	CompleteShowing(ctx context.Context, caseID string) (*models.ShowingSchedule, error)
}

type formService struct {
	store   kvstore.Store
	bus     events.Publisher
	caseSvc ICaseService
	mu      sync.Mutex
}

// NewFormService creates a new FormService.
func NewFormService(store kvstore.Store, bus events.Publisher, caseSvc ICaseService) IFormService {
	return &formService{store: store, bus: bus, caseSvc: caseSvc}
}

func validatePropertyForm(f models.PropertyForm) error {
	verr := &ValidationError{}
	if f.Size != nil && *f.Size <= 0 {
		verr.Add("size", "must be positive")
	}
	if f.Rooms != nil && *f.Rooms <= 0 {
		verr.Add("rooms", "must be positive")
	}
	if f.ConstructionYear != nil {
		if y := *f.ConstructionYear; y < 1500 || y > time.Now().Year()+1 {
			verr.Add("constructionYear", "out of range")
		}
	}
	return verr.OrNil()
}

func validateSalePreferences(p models.SalePreferences) error {
	verr := &ValidationError{}
	if v, ok := models.First(p.ExpectedPrice); ok && v <= 0 {
		verr.Add("expectedPrice", "must be positive")
	}
	if v, ok := models.First(p.Timeframe); ok && v <= 0 {
		verr.Add("timeframe", "must be positive")
	}
	if v, ok := models.First(p.MarketingBudget); ok && v < 0 {
		verr.Add("marketingBudget", "must not be negative")
	}
	switch p.TimeframeUnit {
	case "", "weeks", "months":
	default:
		verr.Add("timeframeType", "must be weeks or months")
	}
	return verr.OrNil()
}

// SubmitPropertyForm stores the most recent property form. With a caseID it goes
// to the per-case key, otherwise to the seller's pending global key.
func (s *formService) SubmitPropertyForm(ctx context.Context, sellerID, caseID string, form models.PropertyForm) (*models.PropertyForm, error) {
	if err := validatePropertyForm(form); err != nil {
		return nil, err
	}
	form.SellerID = sellerID
	form.CaseID = caseID
	form.SubmittedAt = time.Now().UTC()

	key := models.KeyPropertyForm
	if caseID != "" {
		key = models.PropertyFormKey(caseID)
	}
	s.mu.Lock()
	err := kvstore.WriteJSON(ctx, s.store, key, form)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error saving property form: %w", err)
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.CasesChanged, Entity: "propertyForm", EntityID: caseID, Payload: form})
	return &form, nil
}

func (s *formService) SubmitSalePreferences(ctx context.Context, sellerID, caseID string, prefs models.SalePreferences) (*models.SalePreferences, error) {
	if err := validateSalePreferences(prefs); err != nil {
		return nil, err
	}
	prefs.SellerID = sellerID
	prefs.CaseID = caseID
	prefs.SubmittedAt = time.Now().UTC()

	key := models.KeySalePreferences
	if caseID != "" {
		key = models.SalePreferencesKey(caseID)
	}
	s.mu.Lock()
	err := kvstore.WriteJSON(ctx, s.store, key, prefs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error saving sale preferences: %w", err)
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.CasesChanged, Entity: "salePreferences", EntityID: caseID, Payload: prefs})
	return &prefs, nil
}

func (s *formService) GetAux(ctx context.Context, caseID, sellerID string) (enrich.Aux, error) {
	return loadAux(ctx, s.store, caseID, sellerID)
}

// BindPending moves the seller's pending global forms onto a newly created case.
// Holds s.mu so a submission cannot land between the read and the Remove.
func (s *formService) BindPending(ctx context.Context, sellerID, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var form models.PropertyForm
	found, err := kvstore.ReadJSON(ctx, s.store, models.KeyPropertyForm, &form)
	if err != nil {
		return err
	}
	if found && form.CaseID == "" && form.SellerID == sellerID {
		form.CaseID = caseID
		if err := kvstore.WriteJSON(ctx, s.store, models.PropertyFormKey(caseID), form); err != nil {
			return fmt.Errorf("error binding property form to case %s: %w", caseID, err)
		}
		if err := s.store.Remove(ctx, models.KeyPropertyForm); err != nil {
			return fmt.Errorf("error clearing pending property form: %w", err)
		}
	}

	var prefs models.SalePreferences
	found, err = kvstore.ReadJSON(ctx, s.store, models.KeySalePreferences, &prefs)
	if err != nil {
		return err
	}
	if found && prefs.CaseID == "" && prefs.SellerID == sellerID {
		prefs.CaseID = caseID
		if err := kvstore.WriteJSON(ctx, s.store, models.SalePreferencesKey(caseID), prefs); err != nil {
			return fmt.Errorf("error binding sale preferences to case %s: %w", caseID, err)
		}
		if err := s.store.Remove(ctx, models.KeySalePreferences); err != nil {
			return fmt.Errorf("error clearing pending sale preferences: %w", err)
		}
	}
	return nil
}

// BookShowing writes the schedule and moves the case to showing_booked.
func (s *formService) BookShowing(ctx context.Context, caseID string, schedule models.ShowingSchedule) (*models.ShowingSchedule, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(schedule.Date) == "" {
		verr.Add("date", "required")
	} else if _, err := time.Parse("2006-01-02", schedule.Date); err != nil {
		verr.Add("date", "must be YYYY-MM-DD")
	}
	if strings.TrimSpace(schedule.Time) == "" {
		verr.Add("time", "required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	c, err := s.caseSvc.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsClosed() {
		return nil, ErrCaseClosed
	}

	schedule.Status = showingStatusBooked
	if err := kvstore.WriteJSON(ctx, s.store, models.ShowingKey(caseID), schedule); err != nil {
		return nil, fmt.Errorf("error saving showing for case %s: %w", caseID, err)
	}

	if advancesTo(c.Status, models.CaseShowingBooked) {
		if _, err := s.caseSvc.UpdateStatus(ctx, caseID, models.CaseShowingBooked); err != nil {
			return nil, err
		}
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.ShowingBooked, Entity: "case", EntityID: caseID, Payload: schedule})
	return &schedule, nil
}

// CompleteShowing marks a booked showing as held.
func (s *formService) CompleteShowing(ctx context.Context, caseID string) (*models.ShowingSchedule, error) {
	c, err := s.caseSvc.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsClosed() {
		return nil, ErrCaseClosed
	}

	var schedule models.ShowingSchedule
	found, err := kvstore.ReadJSON(ctx, s.store, models.ShowingKey(caseID), &schedule)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	schedule.Status = showingStatusCompleted
	if err := kvstore.WriteJSON(ctx, s.store, models.ShowingKey(caseID), schedule); err != nil {
		return nil, fmt.Errorf("error saving showing for case %s: %w", caseID, err)
	}

	if advancesTo(c.Status, models.CaseShowingCompleted) {
		if _, err := s.caseSvc.UpdateStatus(ctx, caseID, models.CaseShowingCompleted); err != nil {
			return nil, err
		}
	} else {
		events.Notify(ctx, s.bus, events.Event{Type: events.CaseUpdated, Entity: "case", EntityID: caseID})
	}
	return &schedule, nil
}

// loadAux gathers the auxiliary records the enricher overlays on a case.
// The per-case form variant wins; the global pending form applies only to
// the seller who submitted it.
func loadAux(ctx context.Context, store kvstore.Store, caseID, sellerID string) (enrich.Aux, error) {
	var aux enrich.Aux

	var form models.PropertyForm
	found, err := kvstore.ReadJSON(ctx, store, models.PropertyFormKey(caseID), &form)
	if err != nil {
		return aux, err
	}
	if !found {
		found, err = kvstore.ReadJSON(ctx, store, models.KeyPropertyForm, &form)
		if err != nil {
			return aux, err
		}
		found = found && appliesTo(form.CaseID, form.SellerID, caseID, sellerID)
	}
	if found {
		aux.PropertyForm = &form
	}

	var prefs models.SalePreferences
	found, err = kvstore.ReadJSON(ctx, store, models.SalePreferencesKey(caseID), &prefs)
	if err != nil {
		return aux, err
	}
	if !found {
		found, err = kvstore.ReadJSON(ctx, store, models.KeySalePreferences, &prefs)
		if err != nil {
			return aux, err
		}
		found = found && appliesTo(prefs.CaseID, prefs.SellerID, caseID, sellerID)
	}
	if found {
		aux.SalePreferences = &prefs
	}

	var showing models.ShowingSchedule
	found, err = kvstore.ReadJSON(ctx, store, models.ShowingKey(caseID), &showing)
	if err != nil {
		return aux, err
	}
	if found {
		aux.Showing = &showing
	}
	return aux, nil
}

// appliesTo decides whether a global form record belongs to the case. Records
// without a seller predate per-seller tracking and apply to any case.
func appliesTo(formCaseID, formSellerID, caseID, sellerID string) bool {
	if formCaseID != "" {
		return formCaseID == caseID
	}
	return formSellerID == "" || formSellerID == sellerID
}

// statusRank orders the forward path of a case. Closed statuses are absent.
var statusRank = map[models.CaseStatus]int{
	models.CaseDraft:            0,
	models.CaseActive:           1,
	models.CaseShowingBooked:    2,
	models.CaseShowingCompleted: 3,
	models.CaseOffersReceived:   4,
	models.CaseRealtorSelected:  5,
}

// advancesTo reports whether moving from cur to next is forward progress.
// Automatic transitions never move a case backwards or out of a closed state.
func advancesTo(cur, next models.CaseStatus) bool {
	if cur == "" {
		cur = models.CaseActive
	}
	c, ok := statusRank[cur]
	if !ok {
		return false
	}
	return statusRank[next] > c
}
