package services

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"boligmarked/market/internal/enrich"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

// ICaseService defines the interface for case-related operations.
type ICaseService interface {
	GetAllCases(ctx context.Context) ([]models.Case, error)
	GetCasesForUser(ctx context.Context, userID string) ([]models.Case, error)
	GetCaseByID(ctx context.Context, caseID string) (*models.Case, error)
	GetCaseDetails(ctx context.Context, caseID string) (*models.Case, error)
	CreateCase(ctx context.Context, sellerID string, in models.NewCaseInput) (*models.Case, error)
	SaveCase(ctx context.Context, c models.Case) (*models.Case, error)
	UpdateStatus(ctx context.Context, caseID string, status models.CaseStatus) (*models.Case, error)
	AddImage(ctx context.Context, caseID, imageKey string) error
	WithdrawCasesForSeller(ctx context.Context, sellerID string) (int, error)
	SetMessageService(ms IMessageService)
	SetFormService(fs IFormService)
}

// caseService owns the cases collection and its legacy per-id shadows.
type caseService struct {
	store      kvstore.Store
	bus        events.Publisher
	userSvc    IUserService
	messageSvc IMessageService
	formSvc    IFormService
	mu         sync.Mutex
}

// NewCaseService creates a new CaseService.
func NewCaseService(store kvstore.Store, bus events.Publisher, userSvc IUserService) ICaseService {
	return &caseService{store: store, bus: bus, userSvc: userSvc}
}

// SetMessageService allows setting the messageSvc after initialization to break a cycle.
func (s *caseService) SetMessageService(ms IMessageService) { s.messageSvc = ms }

// SetFormService allows setting the formSvc after initialization to break a cycle.
func (s *caseService) SetFormService(fs IFormService) { s.formSvc = fs }

// GetAllCases returns every case that exists: canonical records first, then
// legacy-only ones, deduplicated by id, with unresolved sellers dropped and
// the form submissions overlaid.
func (s *caseService) GetAllCases(ctx context.Context) ([]models.Case, error) {
	raw, err := s.loadRawCases(ctx)
	if err != nil {
		return nil, err
	}
	sellers, err := s.userIDs(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]models.Case, 0, len(raw))
	for _, c := range raw {
		if !c.IsValid() || !sellers[c.SellerID] {
			continue
		}
		enriched, err := s.enrich(ctx, c)
		if err != nil {
			return nil, err
		}
		visible = append(visible, enriched)
	}
	return visible, nil
}

func (s *caseService) GetCasesForUser(ctx context.Context, userID string) ([]models.Case, error) {
	all, err := s.GetAllCases(ctx)
	if err != nil {
		return nil, err
	}
	mine := make([]models.Case, 0)
	for _, c := range all {
		if c.SellerID == userID {
			mine = append(mine, c)
		}
	}
	return mine, nil
}

func (s *caseService) GetCaseByID(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := s.findVisibleRaw(ctx, caseID)
	if err != nil {
		return nil, err
	}
	enriched, err := s.enrich(ctx, *c)
	if err != nil {
		return nil, err
	}
	return &enriched, nil
}

// GetCaseDetails is GetCaseByID plus the case's offers, registrations and
// messages (archived ones included).
func (s *caseService) GetCaseDetails(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := s.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	offers, err := loadList[models.Offer](ctx, s.store, models.KeyOffers)
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		if o.CaseID == caseID {
			c.Offers = append(c.Offers, o)
		}
	}

	regs, err := loadList[models.ShowingRegistration](ctx, s.store, models.KeyShowingRegistrations)
	if err != nil {
		return nil, err
	}
	for _, r := range regs {
		if r.CaseID == caseID {
			c.Registrations = append(c.Registrations, r)
		}
	}

	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.CaseID == caseID {
			c.Messages = append(c.Messages, m)
		}
	}
	return c, nil
}

func validateNewCase(in models.NewCaseInput) error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Address) == "" {
		verr.Add("address", "required")
	}
	if in.Status != nil && !in.Status.IsValid() {
		verr.Add("status", "unknown status")
	}
	return verr.OrNil()
}

// CreateCase creates a case for sellerID and binds any pending form submissions to it.
func (s *caseService) CreateCase(ctx context.Context, sellerID string, in models.NewCaseInput) (*models.Case, error) {
	if err := validateNewCase(in); err != nil {
		return nil, err
	}
	ok, err := s.userSvc.Exists(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("seller %s: %w", sellerID, ErrNotFound)
	}

	now := time.Now().UTC()
	c := models.Case{
		ID:               utils.NewID(),
		Sagsnummer:       utils.NewCaseNumber(now),
		SellerID:         sellerID,
		Address:          strings.TrimSpace(in.Address),
		Municipality:     in.Municipality,
		City:             in.City,
		PostalCode:       in.PostalCode,
		PropertyType:     in.PropertyType,
		Size:             in.Size,
		Rooms:            in.Rooms,
		ConstructionYear: in.ConstructionYear,
		Price:            in.Price,
		PriceValue:       utils.ParsePriceValue(in.Price),
		Description:      in.Description,
		Status:           models.CaseActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Status != nil {
		c.Status = *in.Status
	}

	s.mu.Lock()
	err = s.writeCase(ctx, c)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.formSvc != nil {
		if err := s.formSvc.BindPending(ctx, sellerID, c.ID); err != nil {
			log.Printf("Warning: case %s created but binding pending forms failed: %v", c.ID, err)
		}
	}

	log.Printf("Created case %s (%s) for seller %s", c.ID, c.Sagsnummer, sellerID)
	events.Notify(ctx, s.bus, events.Event{Type: events.CaseCreated, Entity: "case", EntityID: c.ID, Payload: c})
	return &c, nil
}

// SaveCase upserts c by id, generating an id when absent.
func (s *caseService) SaveCase(ctx context.Context, c models.Case) (*models.Case, error) {
	if strings.TrimSpace(c.Address) == "" {
		verr := &ValidationError{}
		verr.Add("address", "required")
		return nil, verr
	}
	if c.Status != "" && !c.Status.IsValid() {
		return nil, ErrInvalidStatus
	}

	c = c.Stripped()
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = utils.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.PriceValue == 0 && c.Price != "" {
		c.PriceValue = utils.ParsePriceValue(c.Price)
	}
	c.UpdatedAt = now

	s.mu.Lock()
	existing, err := loadList[models.Case](ctx, s.store, models.KeyCases)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("error loading cases: %w", err)
	}
	isNew := true
	for _, e := range existing {
		if e.ID == c.ID {
			isNew = false
			break
		}
	}
	err = s.writeCase(ctx, c)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	evType := events.CaseUpdated
	if isNew {
		evType = events.CaseCreated
	}
	events.Notify(ctx, s.bus, events.Event{Type: evType, Entity: "case", EntityID: c.ID, Payload: c})
	return &c, nil
}

// UpdateStatus moves a case to status. Archiving also archives every message
// of the case; both writes finish before any event is published.
func (s *caseService) UpdateStatus(ctx context.Context, caseID string, status models.CaseStatus) (*models.Case, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	s.mu.Lock()
	c, err := s.findVisibleRaw(ctx, caseID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	if err := s.writeCase(ctx, *c); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	archived := 0
	if status == models.CaseArchived && s.messageSvc != nil {
		archived, err = s.messageSvc.ArchiveCaseMessages(ctx, caseID)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("case %s archived but archiving its messages failed: %w", caseID, err)
		}
	}
	s.mu.Unlock()

	evs := []events.Event{{Type: events.CaseUpdated, Entity: "case", EntityID: caseID, Payload: *c}}
	if archived > 0 {
		evs = append(evs, events.Event{Type: events.MessagesArchived, Entity: "case", EntityID: caseID, Payload: archived})
	}
	events.Notify(ctx, s.bus, evs...)
	return c, nil
}

// AddImage appends an object storage key to the case's photos. Adding a key
// twice is a no-op.
func (s *caseService) AddImage(ctx context.Context, caseID, imageKey string) error {
	s.mu.Lock()
	c, err := s.findVisibleRaw(ctx, caseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if slices.Contains(c.Images, imageKey) {
		s.mu.Unlock()
		return nil
	}
	c.Images = append(c.Images, imageKey)
	c.UpdatedAt = time.Now().UTC()
	err = s.writeCase(ctx, *c)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.CaseUpdated, Entity: "case", EntityID: caseID, Payload: *c})
	return nil
}

// WithdrawCasesForSeller withdraws every open case of sellerID, whether or not
// the seller still resolves.
func (s *caseService) WithdrawCasesForSeller(ctx context.Context, sellerID string) (int, error) {
	s.mu.Lock()
	raw, err := s.loadRawCases(ctx)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	n := 0
	now := time.Now().UTC()
	for _, c := range raw {
		if c.SellerID != sellerID || c.Status.IsClosed() {
			continue
		}
		c.Status = models.CaseWithdrawn
		c.UpdatedAt = now
		if err := s.writeCase(ctx, c); err != nil {
			s.mu.Unlock()
			return n, err
		}
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		events.Notify(ctx, s.bus, events.Event{Type: events.CasesChanged, Entity: "case", Payload: sellerID})
	}
	return n, nil
}

// loadRawCases merges the cases collection with every legacy seller_case_<id>
// record. The first occurrence of an id wins. Status overrides are applied;
// nothing is filtered or enriched.
func (s *caseService) loadRawCases(ctx context.Context) ([]models.Case, error) {
	canonical, err := loadList[models.Case](ctx, s.store, models.KeyCases)
	if err != nil {
		return nil, fmt.Errorf("error loading cases: %w", err)
	}

	keys, err := s.store.Keys(ctx, models.SellerCasePrefix)
	if err != nil {
		return nil, fmt.Errorf("error scanning legacy case keys: %w", err)
	}
	sort.Strings(keys)

	seen := make(map[string]bool, len(canonical)+len(keys))
	merged := make([]models.Case, 0, len(canonical)+len(keys))
	add := func(c models.Case) {
		if c.ID == "" || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		merged = append(merged, c)
	}
	for _, c := range canonical {
		add(c)
	}
	for _, key := range keys {
		if strings.HasPrefix(key, models.CaseStatusPrefix) {
			continue
		}
		var c models.Case
		found, err := kvstore.ReadJSON(ctx, s.store, key, &c)
		if err != nil {
			return nil, err
		}
		if found {
			add(c)
		}
	}

	for i := range merged {
		if err := s.applyStatusOverride(ctx, &merged[i]); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// applyStatusOverride applies a bare seller_case_status_<id> value, which wins
// over the record's own status.
func (s *caseService) applyStatusOverride(ctx context.Context, c *models.Case) error {
	raw, ok, err := s.store.Get(ctx, models.CaseStatusKey(c.ID))
	if err != nil {
		return fmt.Errorf("error reading status override for case %s: %w", c.ID, err)
	}
	if !ok {
		return nil
	}
	status := models.CaseStatus(strings.Trim(strings.TrimSpace(raw), `"`))
	if !status.IsValid() {
		log.Printf("Warning: ignoring unknown status override %q for case %s", raw, c.ID)
		return nil
	}
	c.Status = status
	return nil
}

// findVisibleRaw returns the stored record for caseID if the case exists.
func (s *caseService) findVisibleRaw(ctx context.Context, caseID string) (*models.Case, error) {
	raw, err := s.loadRawCases(ctx)
	if err != nil {
		return nil, err
	}
	for i := range raw {
		if raw[i].ID != caseID {
			continue
		}
		if !raw[i].IsValid() {
			return nil, ErrNotFound
		}
		ok, err := s.userSvc.Exists(ctx, raw[i].SellerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return &raw[i], nil
	}
	return nil, ErrNotFound
}

func (s *caseService) userIDs(ctx context.Context) (map[string]bool, error) {
	users, err := s.userSvc.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(users))
	for _, u := range users {
		ids[u.ID] = true
	}
	return ids, nil
}

func (s *caseService) enrich(ctx context.Context, c models.Case) (models.Case, error) {
	aux, err := loadAux(ctx, s.store, c.ID, c.SellerID)
	if err != nil {
		return c, fmt.Errorf("error loading form data for case %s: %w", c.ID, err)
	}
	return enrich.Enrich(c, aux), nil
}

// writeCase upserts into the collection, refreshes the legacy shadow and keeps
// the status override in line. Caller holds s.mu.
func (s *caseService) writeCase(ctx context.Context, c models.Case) error {
	c = c.Stripped()
	cases, err := loadList[models.Case](ctx, s.store, models.KeyCases)
	if err != nil {
		return fmt.Errorf("error loading cases: %w", err)
	}
	cases, _ = upsert(cases, c, func(x models.Case) string { return x.ID })
	if err := saveList(ctx, s.store, models.KeyCases, cases); err != nil {
		return fmt.Errorf("error saving case %s: %w", c.ID, err)
	}
	if err := kvstore.WriteJSON(ctx, s.store, models.SellerCaseKey(c.ID), c); err != nil {
		return fmt.Errorf("error saving legacy record for case %s: %w", c.ID, err)
	}
	if c.Status != "" {
		if err := s.store.Set(ctx, models.CaseStatusKey(c.ID), string(c.Status)); err != nil {
			return fmt.Errorf("error saving status for case %s: %w", c.ID, err)
		}
	}
	return nil
}

// openCase loads caseID and fails with ErrCaseClosed when closed reports its
// status as closed. Writers call it again under their own lock before writing,
// so a status change that lands in between is seen.
func openCase(ctx context.Context, cases ICaseService, caseID string, closed func(models.CaseStatus) bool) (*models.Case, error) {
	c, err := cases.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if closed(c.Status) {
		return nil, ErrCaseClosed
	}
	return c, nil
}
