package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/utils"
)

// IMessageService owns the case_messages collection.
type IMessageService interface {
	SendMessage(ctx context.Context, caseID string, from *models.User, toUserID, body string) (*models.Message, error)
	GetCaseMessages(ctx context.Context, caseID string, includeArchived bool) ([]models.Message, error)
	GetMessagesForUser(ctx context.Context, userID string) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) error
	ArchiveCaseMessages(ctx context.Context, caseID string) (int, error)
}

type messageService struct {
	store   kvstore.Store
	bus     events.Publisher
	caseSvc ICaseService
	userSvc IUserService
	mu      sync.Mutex
}

// NewMessageService creates a new MessageService.
func NewMessageService(store kvstore.Store, bus events.Publisher, caseSvc ICaseService, userSvc IUserService) IMessageService {
	return &messageService{store: store, bus: bus, caseSvc: caseSvc, userSvc: userSvc}
}

// SendMessage appends a message to a case's thread. An empty toUserID from a
// non-seller addresses the case's seller. Closed cases reject new messages.
func (s *messageService) SendMessage(ctx context.Context, caseID string, from *models.User, toUserID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	c, err := openCase(ctx, s.caseSvc, caseID, models.CaseStatus.IsClosed)
	if err != nil {
		return nil, err
	}

	if toUserID == "" {
		if from.ID == c.SellerID {
			verr := &ValidationError{}
			verr.Add("toUserId", "required")
			return nil, verr
		}
		toUserID = c.SellerID
	}
	to, err := s.userSvc.FindByID(ctx, toUserID)
	if errors.Is(err, ErrNotFound) {
		verr := &ValidationError{}
		verr.Add("toUserId", "unknown recipient")
		return nil, verr
	}
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:         utils.NewID(),
		CaseID:     caseID,
		FromUserID: from.ID,
		FromName:   from.Name,
		ToUserID:   to.ID,
		ToName:     to.Name,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	}

	// Archiving writes the status before it takes s.mu to archive the thread.
	s.mu.Lock()
	_, err = openCase(ctx, s.caseSvc, caseID, models.CaseStatus.IsClosed)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err == nil {
		msgs = append(msgs, msg)
		err = saveList(ctx, s.store, models.KeyMessages, msgs)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("error saving message on case %s: %w", caseID, err)
	}

	events.Notify(ctx, s.bus, events.Event{Type: events.MessageSent, Entity: "message", EntityID: msg.ID, Payload: msg})
	return &msg, nil
}

func (s *messageService) GetCaseMessages(ctx context.Context, caseID string, includeArchived bool) ([]models.Message, error) {
	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0)
	for _, m := range msgs {
		if m.CaseID != caseID {
			continue
		}
		if m.Archived && !includeArchived {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMessagesForUser returns every non-archived message the user sent or
// received on a case that still exists.
func (s *messageService) GetMessagesForUser(ctx context.Context, userID string) ([]models.Message, error) {
	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err != nil {
		return nil, err
	}
	cases, err := s.caseSvc.GetAllCases(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(cases))
	for _, c := range cases {
		live[c.ID] = true
	}

	out := make([]models.Message, 0)
	for _, m := range msgs {
		if m.Archived || !live[m.CaseID] {
			continue
		}
		if m.FromUserID == userID || m.ToUserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkRead flags a message as read. Only its recipient may do so.
func (s *messageService) MarkRead(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	idx := -1
	for i := range msgs {
		if msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if msgs[idx].ToUserID != userID {
		s.mu.Unlock()
		return ErrForbidden
	}
	if msgs[idx].Read {
		s.mu.Unlock()
		return nil
	}
	msgs[idx].Read = true
	err = saveList(ctx, s.store, models.KeyMessages, msgs)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error marking message %s read: %w", messageID, err)
	}

	events.Notify(ctx, s.bus)
	return nil
}

// ArchiveCaseMessages sets archived on every message of caseID and returns how
// many changed. It publishes nothing; the caller does once its own write is done.
func (s *messageService) ArchiveCaseMessages(ctx context.Context, caseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := loadList[models.Message](ctx, s.store, models.KeyMessages)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range msgs {
		if msgs[i].CaseID == caseID && !msgs[i].Archived {
			msgs[i].Archived = true
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := saveList(ctx, s.store, models.KeyMessages, msgs); err != nil {
		return 0, fmt.Errorf("error archiving messages of case %s: %w", caseID, err)
	}
	return n, nil
}
