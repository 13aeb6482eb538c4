package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"boligmarked/market/internal/auth"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

const minPasswordLength = 6

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	GetAll(ctx context.Context) ([]models.User, error)
	FindByID(ctx context.Context, userID string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Exists(ctx context.Context, userID string) (bool, error)
	CreateUser(ctx context.Context, in models.NewUserInput, source models.UserSource) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	UpdateUser(ctx context.Context, userID string, upd models.UserUpdate) (*models.User, error)
	SetActive(ctx context.Context, userID string, active bool) error
	DeleteUser(ctx context.Context, userID string) error
	SeedAdmin(ctx context.Context, email, password, name string) (*models.User, error)
	SetCaseService(cs ICaseService)
}

// userService implements IUserService over the users key, reading the legacy
// test_users key as a second source.
type userService struct {
	store   kvstore.Store
	bus     events.Publisher
	caseSvc ICaseService
	mu      sync.Mutex
}

// NewUserService creates a new UserService.
func NewUserService(store kvstore.Store, bus events.Publisher, caseSvc ICaseService) IUserService {
	return &userService{store: store, bus: bus, caseSvc: caseSvc}
}

// SetCaseService allows setting the caseSvc after initialization to break a cycle.
func (s *userService) SetCaseService(cs ICaseService) {
	s.caseSvc = cs
}

// GetAll merges users with test_users. A legacy record whose id already appears
// in users is skipped.
func (s *userService) GetAll(ctx context.Context) ([]models.User, error) {
	primary, err := loadList[models.User](ctx, s.store, models.KeyUsers)
	if err != nil {
		return nil, fmt.Errorf("error loading users: %w", err)
	}
	legacy, err := loadList[models.User](ctx, s.store, models.KeyLegacyUsers)
	if err != nil {
		return nil, fmt.Errorf("error loading legacy users: %w", err)
	}

	seen := make(map[string]bool, len(primary)+len(legacy))
	all := make([]models.User, 0, len(primary)+len(legacy))
	for _, u := range primary {
		if u.ID == "" || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		all = append(all, u)
	}
	for _, u := range legacy {
		if u.ID == "" || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		u.Source = models.SourceLegacy
		all = append(all, u)
	}
	return all, nil
}

func (s *userService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == userID {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}

// FindByEmail matches case-insensitively.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	want := models.NormalizeEmail(email)
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if models.NormalizeEmail(all[i].Email) == want {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}

// Exists answers "does this user resolve" against both collections.
func (s *userService) Exists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, err := s.FindByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func validateNewUser(in models.NewUserInput) error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Email) == "" {
		verr.Add("email", "required")
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		verr.Add("email", "invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		verr.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "required")
	}
	if !in.Role.IsValid() {
		verr.Add("role", "must be seller, agent or admin")
	}
	return verr.OrNil()
}

func (s *userService) CreateUser(ctx context.Context, in models.NewUserInput, source models.UserSource) (*models.User, error) {
	if err := validateNewUser(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, err := s.FindByEmail(ctx, in.Email); err == nil && existing != nil {
		s.mu.Unlock()
		return nil, ErrEmailExists
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		s.mu.Unlock()
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", in.Email, err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           utils.NewID(),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		Name:         strings.TrimSpace(in.Name),
		Phone:        in.Phone,
		Address:      in.Address,
		PostalCode:   in.PostalCode,
		City:         in.City,
		Source:       source,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Role == models.RoleAgent {
		user.Company = in.Company
		user.Region = in.Region
		user.Specialties = in.Specialties
	}

	err = s.save(ctx, user)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("Created %s user %s (%s)", user.Role, user.ID, user.Email)
	events.Notify(ctx, s.bus, events.Event{Type: events.UserCreated, Entity: "user", EntityID: user.ID, Payload: user})
	return &user, nil
}

// Authenticate checks the password and returns the user. A legacy plaintext
// password is accepted once and replaced by a bcrypt hash.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	switch {
	case user.PasswordHash != "":
		if !auth.CheckPasswordHash(password, user.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
	case auth.CheckLegacyPassword(password, user.Password):
		if err := s.upgradePassword(ctx, user, password); err != nil {
			log.Printf("Warning: failed to upgrade legacy password for user %s: %v", user.ID, err)
		}
	default:
		return nil, ErrInvalidCredentials
	}

	if !user.Active() {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *userService) upgradePassword(ctx context.Context, user *models.User, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.Password = ""
	user.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, *user); err != nil {
		return err
	}

	// users now wins for this id; the legacy copy only loses its plaintext.
	legacy, err := loadList[models.User](ctx, s.store, models.KeyLegacyUsers)
	if err != nil {
		return fmt.Errorf("error loading legacy users: %w", err)
	}
	changed := false
	for i := range legacy {
		if legacy[i].ID == user.ID && legacy[i].Password != "" {
			legacy[i].Password = ""
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := saveList(ctx, s.store, models.KeyLegacyUsers, legacy); err != nil {
		return fmt.Errorf("error clearing legacy password for user %s: %w", user.ID, err)
	}
	return nil
}

func (s *userService) UpdateUser(ctx context.Context, userID string, upd models.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	verr := &ValidationError{}
	if upd.Email != nil {
		if _, perr := mail.ParseAddress(*upd.Email); perr != nil {
			verr.Add("email", "invalid email address")
		} else if other, ferr := s.FindByEmail(ctx, *upd.Email); ferr == nil && other.ID != userID {
			s.mu.Unlock()
			return nil, ErrEmailExists
		}
	}
	if upd.Role != nil && !upd.Role.IsValid() {
		verr.Add("role", "must be seller, agent or admin")
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		verr.Add("name", "required")
	}
	if err := verr.OrNil(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	applyUserUpdate(user, upd)
	user.UpdatedAt = time.Now().UTC()
	err = s.save(ctx, *user)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.UserUpdated, Entity: "user", EntityID: user.ID, Payload: *user})
	return user, nil
}

func applyUserUpdate(u *models.User, upd models.UserUpdate) {
	if upd.Name != nil {
		u.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		u.Email = strings.TrimSpace(*upd.Email)
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.Address != nil {
		u.Address = *upd.Address
	}
	if upd.PostalCode != nil {
		u.PostalCode = *upd.PostalCode
	}
	if upd.City != nil {
		u.City = *upd.City
	}
	if upd.Company != nil {
		u.Company = *upd.Company
	}
	if upd.Region != nil {
		u.Region = *upd.Region
	}
	if upd.Specialties != nil {
		u.Specialties = *upd.Specialties
	}
}

// SetActive deactivates or reactivates a user. Deactivated users cannot log in.
func (s *userService) SetActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	user.IsActive = &active
	user.UpdatedAt = time.Now().UTC()
	err = s.save(ctx, *user)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	log.Printf("User %s active=%t", userID, active)
	events.Notify(ctx, s.bus, events.Event{Type: events.UserUpdated, Entity: "user", EntityID: userID, Payload: *user})
	return nil
}

// DeleteUser removes the user from both collections and withdraws their cases.
// The case records stay in storage but no longer resolve a seller, so every
// aggregate read drops them.
func (s *userService) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	removed := false
	for _, key := range []string{models.KeyUsers, models.KeyLegacyUsers} {
		users, err := loadList[models.User](ctx, s.store, key)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("error loading %s: %w", key, err)
		}
		kept := users[:0]
		for _, u := range users {
			if u.ID == userID {
				removed = true
				continue
			}
			kept = append(kept, u)
		}
		if len(kept) == len(users) {
			continue
		}
		if err := saveList(ctx, s.store, key, kept); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("error deleting user %s from %s: %w", userID, key, err)
		}
	}
	s.mu.Unlock()
	if !removed {
		return ErrNotFound
	}

	if s.caseSvc != nil {
		n, err := s.caseSvc.WithdrawCasesForSeller(ctx, userID)
		if err != nil {
			log.Printf("Warning: user %s deleted but withdrawing their cases failed: %v", userID, err)
		} else if n > 0 {
			log.Printf("Withdrew %d cases of deleted user %s", n, userID)
		}
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.UserDeleted, Entity: "user", EntityID: userID})
	return nil
}

// SeedAdmin creates the admin account if no user holds the email yet.
func (s *userService) SeedAdmin(ctx context.Context, email, password, name string) (*models.User, error) {
	existing, err := s.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if name == "" {
		name = "Administrator"
	}
	return s.CreateUser(ctx, models.NewUserInput{
		Email:    email,
		Password: password,
		Role:     models.RoleAdmin,
		Name:     name,
	}, models.SourceSeed)
}

// save upserts into the users key. A legacy record is copied into users on its
// first write and keeps Source=legacy.
// Caller holds s.mu.
func (s *userService) save(ctx context.Context, user models.User) error {
	users, err := loadList[models.User](ctx, s.store, models.KeyUsers)
	if err != nil {
		return fmt.Errorf("error loading users: %w", err)
	}
	users, _ = upsert(users, user, func(u models.User) string { return u.ID })
	if err := saveList(ctx, s.store, models.KeyUsers, users); err != nil {
		return fmt.Errorf("error saving user %s: %w", user.ID, err)
	}
	return nil
}
