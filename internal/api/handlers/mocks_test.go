package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"boligmarked/market/internal/enrich"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
)

// MockUserService implements services.IUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) GetAll(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Exists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserService) CreateUser(ctx context.Context, in models.NewUserInput, source models.UserSource) (*models.User, error) {
	args := m.Called(ctx, in, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateUser(ctx context.Context, userID string, upd models.UserUpdate) (*models.User, error) {
	args := m.Called(ctx, userID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetActive(ctx context.Context, userID string, active bool) error {
	args := m.Called(ctx, userID, active)
	return args.Error(0)
}

func (m *MockUserService) DeleteUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserService) SeedAdmin(ctx context.Context, email, password, name string) (*models.User, error) {
	args := m.Called(ctx, email, password, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetCaseService(cs services.ICaseService) {
	m.Called(cs)
}

// MockCaseService implements services.ICaseService
type MockCaseService struct {
	mock.Mock
}

func (m *MockCaseService) GetAllCases(ctx context.Context) ([]models.Case, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Case), args.Error(1)
}

func (m *MockCaseService) GetCasesForUser(ctx context.Context, userID string) ([]models.Case, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Case), args.Error(1)
}

func (m *MockCaseService) GetCaseByID(ctx context.Context, caseID string) (*models.Case, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Case), args.Error(1)
}

func (m *MockCaseService) GetCaseDetails(ctx context.Context, caseID string) (*models.Case, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Case), args.Error(1)
}

func (m *MockCaseService) CreateCase(ctx context.Context, sellerID string, in models.NewCaseInput) (*models.Case, error) {
	args := m.Called(ctx, sellerID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Case), args.Error(1)
}

func (m *MockCaseService) SaveCase(ctx context.Context, c models.Case) (*models.Case, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Case), args.Error(1)
}

func (m *MockCaseService) UpdateStatus(ctx context.Context, caseID string, status models.CaseStatus) (*models.Case, error) {
	args := m.Called(ctx, caseID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Case), args.Error(1)
}

func (m *MockCaseService) AddImage(ctx context.Context, caseID, imageKey string) error {
	args := m.Called(ctx, caseID, imageKey)
	return args.Error(0)
}

func (m *MockCaseService) WithdrawCasesForSeller(ctx context.Context, sellerID string) (int, error) {
	args := m.Called(ctx, sellerID)
	return args.Int(0), args.Error(1)
}

func (m *MockCaseService) SetMessageService(ms services.IMessageService) {
	m.Called(ms)
}

func (m *MockCaseService) SetFormService(fs services.IFormService) {
	m.Called(fs)
}

// MockFormService implements services.IFormService
type MockFormService struct {
	mock.Mock
}

func (m *MockFormService) SubmitPropertyForm(ctx context.Context, sellerID, caseID string, form models.PropertyForm) (*models.PropertyForm, error) {
	args := m.Called(ctx, sellerID, caseID, form)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PropertyForm), args.Error(1)
}

func (m *MockFormService) SubmitSalePreferences(ctx context.Context, sellerID, caseID string, prefs models.SalePreferences) (*models.SalePreferences, error) {
	args := m.Called(ctx, sellerID, caseID, prefs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SalePreferences), args.Error(1)
}

func (m *MockFormService) GetAux(ctx context.Context, caseID, sellerID string) (enrich.Aux, error) {
	args := m.Called(ctx, caseID, sellerID)
	return args.Get(0).(enrich.Aux), args.Error(1)
}

func (m *MockFormService) BindPending(ctx context.Context, sellerID, caseID string) error {
	args := m.Called(ctx, sellerID, caseID)
	return args.Error(0)
}

func (m *MockFormService) BookShowing(ctx context.Context, caseID string, schedule models.ShowingSchedule) (*models.ShowingSchedule, error) {
	args := m.Called(ctx, caseID, schedule)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShowingSchedule), args.Error(1)
}

func (m *MockFormService) CompleteShowing(ctx context.Context, caseID string) (*models.ShowingSchedule, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShowingSchedule), args.Error(1)
}

// MockOfferService implements services.IOfferService
type MockOfferService struct {
	mock.Mock
}

func (m *MockOfferService) SubmitOffer(ctx context.Context, caseID string, agent *models.User, in models.NewOfferInput) (*models.Offer, error) {
	args := m.Called(ctx, caseID, agent, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *MockOfferService) GetOffersForCase(ctx context.Context, caseID string) ([]models.Offer, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Offer), args.Error(1)
}

func (m *MockOfferService) GetOffersForAgent(ctx context.Context, agentID string) ([]models.Offer, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Offer), args.Error(1)
}

func (m *MockOfferService) AcceptOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error) {
	args := m.Called(ctx, offerID, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *MockOfferService) RejectOffer(ctx context.Context, offerID, sellerID string) (*models.Offer, error) {
	args := m.Called(ctx, offerID, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *MockOfferService) GetAgentCaseStates(ctx context.Context, agentID string) (map[string]models.AgentCaseState, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]models.AgentCaseState), args.Error(1)
}

func (m *MockOfferService) RejectCase(ctx context.Context, caseID, agentID string) error {
	args := m.Called(ctx, caseID, agentID)
	return args.Error(0)
}

// MockShowingService implements services.IShowingService
type MockShowingService struct {
	mock.Mock
}

func (m *MockShowingService) Register(ctx context.Context, caseID string, agent *models.User) (*models.ShowingRegistration, error) {
	args := m.Called(ctx, caseID, agent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShowingRegistration), args.Error(1)
}

func (m *MockShowingService) GetRegistrations(ctx context.Context, caseID string) ([]models.ShowingRegistration, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ShowingRegistration), args.Error(1)
}

func (m *MockShowingService) GetRegistrationsForAgent(ctx context.Context, agentID string) ([]models.ShowingRegistration, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ShowingRegistration), args.Error(1)
}

// MockMessageService implements services.IMessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) SendMessage(ctx context.Context, caseID string, from *models.User, toUserID, body string) (*models.Message, error) {
	args := m.Called(ctx, caseID, from, toUserID, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageService) GetCaseMessages(ctx context.Context, caseID string, includeArchived bool) ([]models.Message, error) {
	args := m.Called(ctx, caseID, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageService) GetMessagesForUser(ctx context.Context, userID string) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageService) MarkRead(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MockMessageService) ArchiveCaseMessages(ctx context.Context, caseID string) (int, error) {
	args := m.Called(ctx, caseID)
	return args.Int(0), args.Error(1)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, sellerID, caseID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, sellerID, caseID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockS3Storage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockS3Storage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockS3Storage) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
