package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"boligmarked/market/internal/config"
	"boligmarked/market/internal/email"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/storage"
	"boligmarked/market/internal/utils"
)

// Task types.
const (
	TypeNotifyOffer   = "notify:offer"
	TypeNotifyMessage = "notify:message"
	TypeNotifyShowing = "notify:showing"
	TypeImageProcess  = "image:process"
)

// Queues.
const (
	QueueDefault = "default"
	QueueImages  = "images"
)

// --- Task Client (Enqueuing tasks) ---

// NewClient creates an asynq client on the same redis as rdb.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
}

// Enqueuer is the part of *asynq.Client the API and dispatcher use.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// --- Payloads ---

type OfferNotifyPayload struct {
	CaseID  string `json:"case_id"`
	OfferID string `json:"offer_id"`
}

type MessageNotifyPayload struct {
	CaseID    string `json:"case_id"`
	MessageID string `json:"message_id"`
}

type ShowingNotifyPayload struct {
	CaseID string `json:"case_id"`
}

type ImageTaskPayload struct {
	S3Key  string `json:"s3_key"`
	CaseID string `json:"case_id"`
}

func newTask(typ string, payload interface{}, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return asynq.NewTask(typ, data, opts...), nil
}

// NewImageProcessTask builds the task that normalizes an uploaded case photo.
func NewImageProcessTask(s3Key, caseID string) (*asynq.Task, error) {
	return newTask(TypeImageProcess, ImageTaskPayload{S3Key: s3Key, CaseID: caseID}, asynq.Queue(QueueImages))
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg            *config.Config
	emailSender    email.Sender
	storageService storage.IS3Storage
	userService    services.IUserService
	caseService    services.ICaseService
	offerService   services.IOfferService
	messageService services.IMessageService
	showingService services.IShowingService
}

func NewTaskProcessor(cfg *config.Config, emailSender email.Sender, storageService storage.IS3Storage, svc *services.Services) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		emailSender:    emailSender,
		storageService: storageService,
		userService:    svc.Users,
		caseService:    svc.Cases,
		offerService:   svc.Offers,
		messageService: svc.Messages,
		showingService: svc.Showings,
	}
}

// SetupServer configures an Asynq server and the mux with every handler registered.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Queues: map[string]int{
				QueueDefault: 3,
				QueueImages:  2,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotifyOffer, processor.HandleNotifyOfferTask)
	mux.HandleFunc(TypeNotifyMessage, processor.HandleNotifyMessageTask)
	mux.HandleFunc(TypeNotifyShowing, processor.HandleNotifyShowingTask)
	mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	return srv, mux
}

// --- Task Handlers ---

// lookupErr turns a missing record into a permanent failure.
func lookupErr(what string, err error) error {
	if errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("%s not found: %v: %w", what, err, asynq.SkipRetry)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func (p *TaskProcessor) send(ctx context.Context, to *models.User, kind email.Kind, subject, body string) error {
	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", from, to.Email)
	}
	msg := email.Message{From: from, To: to.Email, Subject: subject, Body: body, Kind: kind}
	if err := p.emailSender.Send(ctx, []string{to.Email}, subject, msg.Raw()); err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

// HandleNotifyOfferTask tells the seller about a new offer on their case.
func (p *TaskProcessor) HandleNotifyOfferTask(ctx context.Context, t *asynq.Task) error {
	var payload OfferNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal offer notify payload: %v: %w", err, asynq.SkipRetry)
	}

	c, err := p.caseService.GetCaseByID(ctx, payload.CaseID)
	if err != nil {
		return lookupErr("case "+payload.CaseID, err)
	}
	seller, err := p.userService.FindByID(ctx, c.SellerID)
	if err != nil {
		return lookupErr("seller "+c.SellerID, err)
	}
	offers, err := p.offerService.GetOffersForCase(ctx, payload.CaseID)
	if err != nil {
		return lookupErr("offers", err)
	}
	var offer *models.Offer
	for i := range offers {
		if offers[i].ID == payload.OfferID {
			offer = &offers[i]
			break
		}
	}
	if offer == nil {
		log.Printf("Offer %s on case %s no longer exists, skipping notification", payload.OfferID, payload.CaseID)
		return nil
	}

	subject := fmt.Sprintf("New offer on %s", c.Address)
	body := fmt.Sprintf("Hi %s,\n\n%s from %s has sent an offer on %s (%s).\nExpected price: %s\nCommission: %s (%.2f%%)\nBinding period: %s\n",
		seller.Name, offer.AgentName, offer.AgencyName, c.Address, c.Sagsnummer,
		utils.FormatMillions(offer.PriceValue), offer.Commission, offer.CommissionPercent(), offer.BindingPeriod)
	if err := p.send(ctx, seller, email.KindNewOffer, subject, body); err != nil {
		return err
	}
	log.Printf("Offer notification sent: Offer=%s, Case=%s", payload.OfferID, payload.CaseID)
	return nil
}

// HandleNotifyMessageTask tells the recipient of a message about it.
func (p *TaskProcessor) HandleNotifyMessageTask(ctx context.Context, t *asynq.Task) error {
	var payload MessageNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal message notify payload: %v: %w", err, asynq.SkipRetry)
	}

	thread, err := p.messageService.GetCaseMessages(ctx, payload.CaseID, false)
	if err != nil {
		return lookupErr("messages", err)
	}
	var msg *models.Message
	for i := range thread {
		if thread[i].ID == payload.MessageID {
			msg = &thread[i]
			break
		}
	}
	if msg == nil {
		log.Printf("Message %s is gone or archived, skipping notification", payload.MessageID)
		return nil
	}
	if msg.Read {
		return nil
	}

	to, err := p.userService.FindByID(ctx, msg.ToUserID)
	if err != nil {
		return lookupErr("recipient "+msg.ToUserID, err)
	}
	c, err := p.caseService.GetCaseByID(ctx, payload.CaseID)
	if err != nil {
		return lookupErr("case "+payload.CaseID, err)
	}

	subject := fmt.Sprintf("New message about %s", c.Address)
	body := fmt.Sprintf("Hi %s,\n\n%s wrote:\n\n%s\n", to.Name, msg.FromName, msg.Body)
	return p.send(ctx, to, email.KindNewMessage, subject, body)
}

// HandleNotifyShowingTask tells every registered agent when the showing is.
func (p *TaskProcessor) HandleNotifyShowingTask(ctx context.Context, t *asynq.Task) error {
	var payload ShowingNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal showing notify payload: %v: %w", err, asynq.SkipRetry)
	}

	c, err := p.caseService.GetCaseByID(ctx, payload.CaseID)
	if err != nil {
		return lookupErr("case "+payload.CaseID, err)
	}
	if c.Showing == nil {
		log.Printf("Case %s has no showing booked, skipping notification", payload.CaseID)
		return nil
	}
	regs, err := p.showingService.GetRegistrations(ctx, payload.CaseID)
	if err != nil {
		return lookupErr("registrations", err)
	}

	subject := fmt.Sprintf("Showing booked for %s", c.Address)
	var failed int
	for _, r := range regs {
		agent, err := p.userService.FindByID(ctx, r.AgentID)
		if err != nil {
			log.Printf("Warning: skipping showing notification for agent %s: %v", r.AgentID, err)
			continue
		}
		body := fmt.Sprintf("Hi %s,\n\nThe showing of %s is on %s at %s.\n%s\n", agent.Name, c.Address, c.Showing.Date, c.Showing.Time, c.Showing.Notes)
		if err := p.send(ctx, agent, email.KindShowingBooked, subject, body); err != nil {
			log.Printf("ERROR %v", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d showing notifications failed", failed, len(regs))
	}
	return nil
}

// HandleImageProcessTask downscales an uploaded case photo and attaches it to the case.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("Processing image task: S3Key=%s, CaseID=%s", payload.S3Key, payload.CaseID)

	imgData, contentType, err := p.storageService.GetObject(ctx, payload.S3Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		log.Printf("Resizing %s image %s (original: %dx%d, max: %d)", format, payload.S3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxDim)
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		if err := p.storageService.PutObject(ctx, payload.S3Key, buf.Bytes(), "image/jpeg"); err != nil {
			return fmt.Errorf("failed to upload processed image: %w", err)
		}
		contentType = "image/jpeg"
	}

	if err := p.caseService.AddImage(ctx, payload.CaseID, p.storageService.PublicURL(payload.S3Key)); err != nil {
		return lookupErr("case "+payload.CaseID, err)
	}

	log.Printf("Image task processed successfully: Key=%s (%s), CaseID=%s", payload.S3Key, contentType, payload.CaseID)
	return nil
}
