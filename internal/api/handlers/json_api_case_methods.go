package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"boligmarked/market/internal/models"
	"boligmarked/market/internal/tasks"
)

// ownedCase loads caseID and checks the caller is its seller. Admins pass.
func (h *JsonApiHandler) ownedCase(c *gin.Context, caseID string) (*models.Case, *ApiError) {
	if caseID == "" {
		return nil, &ApiError{Message: "validation_failed", Fields: map[string]string{"caseId": "required"}}
	}
	cs, err := h.caseService.GetCaseByID(c.Request.Context(), caseID)
	if err != nil {
		return nil, fromServiceError("ownedCase", err)
	}
	who := h.caller(c)
	if !who.IsAdmin() && cs.SellerID != who.UserID {
		return nil, NewApiError("forbidden")
	}
	return cs, nil
}

// currentUser loads the full record of the caller.
func (h *JsonApiHandler) currentUser(c *gin.Context) (*models.User, *ApiError) {
	u, err := h.userService.FindByID(c.Request.Context(), h.caller(c).UserID)
	if err != nil {
		return nil, fromServiceError("currentUser", err)
	}
	return u, nil
}

type CaseIDArgs struct {
	CaseID string `json:"caseId"`
}

func (h *JsonApiHandler) createCase(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in models.NewCaseInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	cs, err := h.caseService.CreateCase(c.Request.Context(), h.caller(c).UserID, in)
	if err != nil {
		return nil, fromServiceError("createCase", err)
	}
	return cs, nil
}

// updateCase saves seller-editable fields. Ownership and status come from the
// stored record; status changes go through setCaseStatus.
func (h *JsonApiHandler) updateCase(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in models.Case
	if apiErr := h.parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	existing, apiErr := h.ownedCase(c, in.ID)
	if apiErr != nil {
		return nil, apiErr
	}
	in.SellerID = existing.SellerID
	in.Sagsnummer = existing.Sagsnummer
	in.Status = existing.Status
	in.Images = existing.Images
	in.CreatedAt = existing.CreatedAt

	saved, err := h.caseService.SaveCase(c.Request.Context(), in)
	if err != nil {
		return nil, fromServiceError("updateCase", err)
	}
	return saved, nil
}

type SetCaseStatusArgs struct {
	CaseID string            `json:"caseId"`
	Status models.CaseStatus `json:"status"`
}

func (h *JsonApiHandler) setCaseStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SetCaseStatusArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.ownedCase(c, reqArgs.CaseID); apiErr != nil {
		return nil, apiErr
	}
	cs, err := h.caseService.UpdateStatus(c.Request.Context(), reqArgs.CaseID, reqArgs.Status)
	if err != nil {
		return nil, fromServiceError("setCaseStatus", err)
	}
	return cs, nil
}

type PropertyFormArgs struct {
	CaseID string              `json:"caseId,omitempty"`
	Form   models.PropertyForm `json:"form"`
}

// submitPropertyForm stores the form against caseID, or as the caller's
// pending form when no case exists yet.
func (h *JsonApiHandler) submitPropertyForm(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs PropertyFormArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	sellerID := h.caller(c).UserID
	if reqArgs.CaseID != "" {
		cs, apiErr := h.ownedCase(c, reqArgs.CaseID)
		if apiErr != nil {
			return nil, apiErr
		}
		sellerID = cs.SellerID
	}
	form, err := h.formService.SubmitPropertyForm(c.Request.Context(), sellerID, reqArgs.CaseID, reqArgs.Form)
	if err != nil {
		return nil, fromServiceError("submitPropertyForm", err)
	}
	return form, nil
}

type SalePreferencesArgs struct {
	CaseID      string                 `json:"caseId,omitempty"`
	Preferences models.SalePreferences `json:"preferences"`
}

func (h *JsonApiHandler) submitSalePreferences(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SalePreferencesArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	sellerID := h.caller(c).UserID
	if reqArgs.CaseID != "" {
		cs, apiErr := h.ownedCase(c, reqArgs.CaseID)
		if apiErr != nil {
			return nil, apiErr
		}
		sellerID = cs.SellerID
	}
	prefs, err := h.formService.SubmitSalePreferences(c.Request.Context(), sellerID, reqArgs.CaseID, reqArgs.Preferences)
	if err != nil {
		return nil, fromServiceError("submitSalePreferences", err)
	}
	return prefs, nil
}

type BookShowingArgs struct {
	CaseID string `json:"caseId"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Notes  string `json:"notes,omitempty"`
}

func (h *JsonApiHandler) bookShowing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs BookShowingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.ownedCase(c, reqArgs.CaseID); apiErr != nil {
		return nil, apiErr
	}
	schedule, err := h.formService.BookShowing(c.Request.Context(), reqArgs.CaseID, models.ShowingSchedule{
		Date:  reqArgs.Date,
		Time:  reqArgs.Time,
		Notes: reqArgs.Notes,
	})
	if err != nil {
		return nil, fromServiceError("bookShowing", err)
	}
	return schedule, nil
}

func (h *JsonApiHandler) completeShowing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CaseIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.ownedCase(c, reqArgs.CaseID); apiErr != nil {
		return nil, apiErr
	}
	schedule, err := h.formService.CompleteShowing(c.Request.Context(), reqArgs.CaseID)
	if err != nil {
		return nil, fromServiceError("completeShowing", err)
	}
	return schedule, nil
}

func (h *JsonApiHandler) registerForShowing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CaseIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	agent, apiErr := h.currentUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	reg, err := h.showingService.Register(c.Request.Context(), reqArgs.CaseID, agent)
	if err != nil {
		return nil, fromServiceError("registerForShowing", err)
	}
	return reg, nil
}

// --- Offers ---

type SubmitOfferArgs struct {
	CaseID string               `json:"caseId"`
	Offer  models.NewOfferInput `json:"offer"`
}

func (h *JsonApiHandler) submitOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SubmitOfferArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	agent, apiErr := h.currentUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	offer, err := h.offerService.SubmitOffer(c.Request.Context(), reqArgs.CaseID, agent, reqArgs.Offer)
	if err != nil {
		return nil, fromServiceError("submitOffer", err)
	}
	return offer, nil
}

type OfferIDArgs struct {
	OfferID string `json:"offerId"`
}

// acceptOffer and rejectOffer pass the caller as seller; the service refuses
// offers on other sellers' cases. Admins act as the case's seller.
func (h *JsonApiHandler) acceptOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs OfferIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	sellerID, apiErr := h.offerSeller(c, reqArgs.OfferID)
	if apiErr != nil {
		return nil, apiErr
	}
	offer, err := h.offerService.AcceptOffer(c.Request.Context(), reqArgs.OfferID, sellerID)
	if err != nil {
		return nil, fromServiceError("acceptOffer", err)
	}
	return offer, nil
}

func (h *JsonApiHandler) rejectOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs OfferIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	sellerID, apiErr := h.offerSeller(c, reqArgs.OfferID)
	if apiErr != nil {
		return nil, apiErr
	}
	offer, err := h.offerService.RejectOffer(c.Request.Context(), reqArgs.OfferID, sellerID)
	if err != nil {
		return nil, fromServiceError("rejectOffer", err)
	}
	return offer, nil
}

// offerSeller is the seller id to act as. Only admins need the offer's case
// looked up.
func (h *JsonApiHandler) offerSeller(c *gin.Context, offerID string) (string, *ApiError) {
	who := h.caller(c)
	if offerID == "" {
		return "", &ApiError{Message: "validation_failed", Fields: map[string]string{"offerId": "required"}}
	}
	if !who.IsAdmin() {
		return who.UserID, nil
	}
	// GetOffersForCase needs a case id, so admins scan all cases.
	all, err := h.caseService.GetAllCases(c.Request.Context())
	if err != nil {
		return "", fromServiceError("offerSeller", err)
	}
	for _, cs := range all {
		offers, err := h.offerService.GetOffersForCase(c.Request.Context(), cs.ID)
		if err != nil {
			return "", fromServiceError("offerSeller", err)
		}
		for _, o := range offers {
			if o.ID == offerID {
				return cs.SellerID, nil
			}
		}
	}
	return "", NewApiError("not_found")
}

func (h *JsonApiHandler) rejectCase(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CaseIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if err := h.offerService.RejectCase(c.Request.Context(), reqArgs.CaseID, h.caller(c).UserID); err != nil {
		return nil, fromServiceError("rejectCase", err)
	}
	return true, nil
}

// --- Messages ---

type SendMessageArgs struct {
	CaseID   string `json:"caseId"`
	ToUserID string `json:"toUserId,omitempty"`
	Message  string `json:"message"`
}

// sendMessage lets sellers write only on their own cases. An empty recipient
// addresses the case's seller.
func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if h.caller(c).Role == models.RoleSeller {
		if _, apiErr := h.ownedCase(c, reqArgs.CaseID); apiErr != nil {
			return nil, apiErr
		}
	}
	from, apiErr := h.currentUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	msg, err := h.messageService.SendMessage(c.Request.Context(), reqArgs.CaseID, from, reqArgs.ToUserID, reqArgs.Message)
	if err != nil {
		return nil, fromServiceError("sendMessage", err)
	}
	return msg, nil
}

type MessageIDArgs struct {
	MessageID string `json:"messageId"`
}

func (h *JsonApiHandler) markMessageRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs MessageIDArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if err := h.messageService.MarkRead(c.Request.Context(), reqArgs.MessageID, h.caller(c).UserID); err != nil {
		return nil, fromServiceError("markMessageRead", err)
	}
	return true, nil
}

// --- Photos ---

type UploadURLArgs struct {
	CaseID      string `json:"caseId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	ObjectKey string `json:"objectKey"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if !strings.HasPrefix(reqArgs.ContentType, "image/") {
		return nil, &ApiError{Message: "validation_failed", Fields: map[string]string{"contentType": "must be an image type"}}
	}
	cs, apiErr := h.ownedCase(c, reqArgs.CaseID)
	if apiErr != nil {
		return nil, apiErr
	}
	if cs.Status.IsClosed() {
		return nil, NewApiError("case_closed")
	}

	url, key, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(), cs.SellerID, cs.ID, reqArgs.Filename, reqArgs.ContentType)
	if err != nil {
		log.Printf("ERROR generating upload URL for case %s: %v", cs.ID, err)
		return nil, NewApiError("Could not generate upload URL")
	}
	return UploadURLResponse{UploadURL: url, ObjectKey: key}, nil
}

type ConfirmUploadArgs struct {
	CaseID    string `json:"caseId"`
	ObjectKey string `json:"objectKey"`
}

// confirmImageUpload queues resizing of an uploaded photo. The photo is
// attached to the case by the worker once processed.
func (h *JsonApiHandler) confirmImageUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ConfirmUploadArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	cs, apiErr := h.ownedCase(c, reqArgs.CaseID)
	if apiErr != nil {
		return nil, apiErr
	}
	prefix := fmt.Sprintf("cases/%s/%s/", cs.SellerID, cs.ID)
	if !strings.HasPrefix(reqArgs.ObjectKey, prefix) || strings.Contains(reqArgs.ObjectKey, "..") {
		return nil, &ApiError{Message: "validation_failed", Fields: map[string]string{"objectKey": "does not belong to this case"}}
	}

	task, err := tasks.NewImageProcessTask(reqArgs.ObjectKey, cs.ID)
	if err != nil {
		log.Printf("ERROR creating image task for %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("internal_error")
	}
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		log.Printf("ERROR enqueueing image task for %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("Could not queue image processing")
	}
	return true, nil
}
