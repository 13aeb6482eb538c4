package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"boligmarked/market/internal/auth"
	"boligmarked/market/internal/captcha"
	"boligmarked/market/internal/config"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/storage"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the handler.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// access lists who may call a method. A nil entry is public; an empty roles
// list admits any signed-in user. Admins pass every role check.
type access struct {
	roles []models.Role
}

var (
	public   *access
	signedIn = &access{}
)

func rolesOnly(roles ...models.Role) *access { return &access{roles: roles} }

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg            *config.Config
	taskClient     IAsynqClient
	storageService storage.IS3Storage
	userService    services.IUserService
	caseService    services.ICaseService
	formService    services.IFormService
	offerService   services.IOfferService
	showingService services.IShowingService
	messageService services.IMessageService
	captcha        captcha.Verifier
	methods        map[string]apiMethodFunc
	access         map[string]*access
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	taskClient IAsynqClient,
	storageService storage.IS3Storage,
	userService services.IUserService,
	caseService services.ICaseService,
	formService services.IFormService,
	offerService services.IOfferService,
	showingService services.IShowingService,
	messageService services.IMessageService,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:            cfg,
		taskClient:     taskClient,
		storageService: storageService,
		userService:    userService,
		caseService:    caseService,
		formService:    formService,
		offerService:   offerService,
		showingService: showingService,
		messageService: messageService,
	}
	seller := rolesOnly(models.RoleSeller)
	agent := rolesOnly(models.RoleAgent)
	admin := rolesOnly(models.RoleAdmin)

	h.methods = map[string]apiMethodFunc{}
	h.access = map[string]*access{}
	register := func(name string, a *access, fn apiMethodFunc) {
		h.methods[name] = fn
		h.access[name] = a
	}

	register("ping", public, h.ping)
	register("signup", public, h.signup)
	register("login", public, h.login)
	register("refreshToken", signedIn, h.refreshToken)
	register("updateProfile", signedIn, h.updateProfile)

	register("createCase", seller, h.createCase)
	register("updateCase", seller, h.updateCase)
	register("setCaseStatus", seller, h.setCaseStatus)
	register("submitPropertyForm", seller, h.submitPropertyForm)
	register("submitSalePreferences", seller, h.submitSalePreferences)
	register("bookShowing", seller, h.bookShowing)
	register("completeShowing", seller, h.completeShowing)
	register("getUploadURL", seller, h.getUploadURL)
	register("confirmImageUpload", seller, h.confirmImageUpload)
	register("acceptOffer", seller, h.acceptOffer)
	register("rejectOffer", seller, h.rejectOffer)

	register("registerForShowing", agent, h.registerForShowing)
	register("submitOffer", agent, h.submitOffer)
	register("rejectCase", agent, h.rejectCase)

	register("sendMessage", signedIn, h.sendMessage)
	register("markMessageRead", signedIn, h.markMessageRead)

	register("updateUser", admin, h.updateUser)
	register("setUserActive", admin, h.setUserActive)
	register("deleteUser", admin, h.deleteUser)
	return h
}

// SetCaptchaVerifier guards signup with v.
func (h *JsonApiHandler) SetCaptchaVerifier(v captcha.Verifier) {
	h.captcha = v
}

// CaptchaHeader carries the Turnstile token on signup requests.
const CaptchaHeader = "CF-Turnstile-Response"

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID string // empty for guests
	Role   models.Role
}

// IsAdmin reports whether the caller is an admin.
func (a *AuthResult) IsAdmin() bool { return a.Role == models.RoleAdmin }

// checkAuthForMethod validates the bearer token when the method needs one and
// stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	need := h.access[method]
	authRes := &AuthResult{}

	authHeader := c.GetHeader("Authorization")
	switch {
	case need == nil:
		// Public; an optional valid token still identifies the caller.
		if strings.HasPrefix(authHeader, "Bearer ") {
			if claims, err := auth.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "), h.cfg.JwtSecret); err == nil {
				authRes = &AuthResult{UserID: claims.UserID, Role: claims.Role}
			}
		}
	default:
		if authHeader == "" {
			return NewApiError("Authorization header required")
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return NewApiError("Authorization header format must be Bearer {token}")
		}
		claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
		if err != nil {
			return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
		}
		authRes = &AuthResult{UserID: claims.UserID, Role: claims.Role}
		if !authRes.IsAdmin() && len(need.roles) > 0 && !hasRole(need.roles, authRes.Role) {
			return NewApiError("forbidden")
		}
	}

	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

func hasRole(roles []models.Role, r models.Role) bool {
	for _, want := range roles {
		if want == r {
			return true
		}
	}
	return false
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: false, Error: apiErr.Message, Fields: apiErr.Fields})
}

func (h *JsonApiHandler) caller(c *gin.Context) *AuthResult {
	a, ok := getAuthFromContext(c.Request.Context())
	if !ok {
		return &AuthResult{}
	}
	return a
}

// ApiError is a failure reported to the client in the response envelope.
type ApiError struct {
	Message string
	Fields  map[string]string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// fromServiceError maps service failures to API errors. Unexpected errors are
// logged and reported generically.
func fromServiceError(op string, err error) *ApiError {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return &ApiError{Message: "validation_failed", Fields: verr.Fields}
	case errors.Is(err, services.ErrNotFound):
		return NewApiError("not_found")
	case errors.Is(err, services.ErrForbidden):
		return NewApiError("forbidden")
	case errors.Is(err, services.ErrEmailExists):
		return NewApiError("email_exists")
	case errors.Is(err, services.ErrAlreadyRegistered):
		return NewApiError("already_registered")
	case errors.Is(err, services.ErrCaseClosed):
		return NewApiError("case_closed")
	case errors.Is(err, services.ErrEmptyMessage):
		return NewApiError("empty_message")
	case errors.Is(err, services.ErrInvalidStatus):
		return NewApiError("invalid_status")
	}
	log.Printf("ERROR %s: %v", op, err)
	return NewApiError("internal_error")
}

func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}
	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

// publicUser strips credentials before a user leaves the API.
func publicUser(u *models.User) models.User {
	out := *u
	out.PasswordHash = ""
	out.Password = ""
	return out
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (h *JsonApiHandler) issueToken(u *models.User) (*AuthResponse, *ApiError) {
	token, err := auth.GenerateJWT(u.ID, u.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("ERROR generating JWT for user %s: %v", u.ID, err)
		return nil, NewApiError("internal_error")
	}
	return &AuthResponse{Token: token, User: publicUser(u)}, nil
}

func (h *JsonApiHandler) signup(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in models.NewUserInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	if in.Role != models.RoleSeller && in.Role != models.RoleAgent {
		return nil, &ApiError{Message: "validation_failed", Fields: map[string]string{"role": "must be seller or agent"}}
	}
	if h.captcha != nil && h.captcha.Enabled() {
		ok, err := h.captcha.Verify(c.Request.Context(), c.GetHeader(CaptchaHeader), c.ClientIP())
		if err != nil {
			log.Printf("Warning: captcha verification unavailable: %v", err)
			return nil, NewApiError("captcha_unavailable")
		}
		if !ok {
			return nil, NewApiError("captcha_failed")
		}
	}

	u, err := h.userService.CreateUser(c.Request.Context(), in, models.SourceSignup)
	if err != nil {
		return nil, fromServiceError("signup", err)
	}
	return h.issueToken(u)
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login returns false for unknown, wrong or deactivated credentials without
// saying which.
func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	u, err := h.userService.Authenticate(c.Request.Context(), reqArgs.Email, reqArgs.Password)
	if errors.Is(err, services.ErrInvalidCredentials) || errors.Is(err, services.ErrUserInactive) {
		log.Printf("Login attempt failed for %s: %v", reqArgs.Email, err)
		return false, nil
	}
	if err != nil {
		return nil, fromServiceError("login", err)
	}
	return h.issueToken(u)
}

func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	u, err := h.userService.FindByID(c.Request.Context(), h.caller(c).UserID)
	if err != nil {
		return nil, fromServiceError("refreshToken", err)
	}
	if !u.Active() {
		return nil, NewApiError("user_inactive")
	}
	return h.issueToken(u)
}

func (h *JsonApiHandler) updateProfile(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var upd models.UserUpdate
	if apiErr := h.parseRequiredSingleArgFromArray(args, &upd); apiErr != nil {
		return nil, apiErr
	}
	upd.Role = nil // only admins change roles

	u, err := h.userService.UpdateUser(c.Request.Context(), h.caller(c).UserID, upd)
	if err != nil {
		return nil, fromServiceError("updateProfile", err)
	}
	return publicUser(u), nil
}

// --- Admin ---

type UpdateUserArgs struct {
	UserID string            `json:"userId"`
	Update models.UserUpdate `json:"update"`
}

func (h *JsonApiHandler) updateUser(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UpdateUserArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	u, err := h.userService.UpdateUser(c.Request.Context(), reqArgs.UserID, reqArgs.Update)
	if err != nil {
		return nil, fromServiceError("updateUser", err)
	}
	return publicUser(u), nil
}

type SetUserActiveArgs struct {
	UserID string `json:"userId"`
	Active bool   `json:"active"`
}

func (h *JsonApiHandler) setUserActive(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SetUserActiveArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.UserID == h.caller(c).UserID && !reqArgs.Active {
		return nil, NewApiError("cannot_deactivate_self")
	}
	if err := h.userService.SetActive(c.Request.Context(), reqArgs.UserID, reqArgs.Active); err != nil {
		return nil, fromServiceError("setUserActive", err)
	}
	return true, nil
}

type UserIDArgs struct {
	UserID string `json:"userId"`
}

func (h *JsonApiHandler) deleteUser(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UserIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.UserID == h.caller(c).UserID {
		return nil, NewApiError("cannot_delete_self")
	}
	if err := h.userService.DeleteUser(c.Request.Context(), reqArgs.UserID); err != nil {
		return nil, fromServiceError("deleteUser", err)
	}
	return true, nil
}
