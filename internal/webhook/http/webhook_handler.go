// Package http provides the webhook ingress handlers for both remote systems.
// Each handler captures the raw request body before parsing, authenticates the
// event, then hands a change notification to the event bus for asynchronous
// processing.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/syncbridge/internal/bus"
	"github.com/allisson/syncbridge/internal/httputil"
	customValidation "github.com/allisson/syncbridge/internal/validation"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
	"github.com/allisson/syncbridge/internal/webhook/http/dto"
	webhookService "github.com/allisson/syncbridge/internal/webhook/service"
)

// Webhook header names. The handshake headers carry the one-time registration
// challenge; the signature headers carry the per-event HMAC.
const (
	HeaderSignature          = "X-Hook-Signature"
	HeaderHandshakeChallenge = "X-Hook-Secret"
	HeaderHandshakeResponse  = "X-Hook-Secret-Response"
)

// WebhookHandler receives change events from FieldPro and TaskHub. Each system
// has its own shared secret and therefore its own authenticator.
type WebhookHandler struct {
	fieldproAuth *webhookService.Authenticator
	taskhubAuth  *webhookService.Authenticator
	bus          *bus.Bus
	logger       *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(
	fieldproAuth *webhookService.Authenticator,
	taskhubAuth *webhookService.Authenticator,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		fieldproAuth: fieldproAuth,
		taskhubAuth:  taskhubAuth,
		bus:          eventBus,
		logger:       logger,
	}
}

// FieldProHandler handles POST /webhooks/fieldpro.
// Answers the registration handshake, rejects events with bad signatures, and
// accepts valid events for asynchronous processing with 202.
func (h *WebhookHandler) FieldProHandler(c *gin.Context) {
	rawBody, ok := h.authenticate(c, h.fieldproAuth)
	if !ok {
		return
	}

	var req dto.FieldProEventRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	h.accept(c, req.ToNotification())
}

// TaskHubHandler handles POST /webhooks/taskhub.
func (h *WebhookHandler) TaskHubHandler(c *gin.Context) {
	rawBody, ok := h.authenticate(c, h.taskhubAuth)
	if !ok {
		return
	}

	var req dto.TaskHubEventRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	h.accept(c, req.ToNotification())
}

// authenticate captures the raw body and runs the handshake/signature checks.
// The raw bytes must be read before any JSON parsing: the remote system signed
// the bytes it sent, and a re-serialized object is not byte-identical.
// Returns the raw body and whether processing should continue.
func (h *WebhookHandler) authenticate(c *gin.Context, auth *webhookService.Authenticator) ([]byte, bool) {
	rawBody, err := c.GetRawData()
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return nil, false
	}

	// One-time registration handshake: echo the HMAC of the challenge nonce.
	if nonce := c.GetHeader(HeaderHandshakeChallenge); nonce != "" {
		c.Header(HeaderHandshakeResponse, auth.HandshakeResponse(nonce))
		c.JSON(http.StatusOK, gin.H{"status": "handshake_accepted"})
		return nil, false
	}

	// A malformed signature header can never match; reject it before
	// computing the HMAC.
	signature := c.GetHeader(HeaderSignature)
	if err := customValidation.HexSignature.Validate(signature); err != nil {
		httputil.HandleErrorGin(c, webhookDomain.ErrInvalidSignature, h.logger)
		return nil, false
	}
	if err := auth.VerifySignature(rawBody, signature); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return nil, false
	}

	return rawBody, true
}

// accept publishes the notification and acknowledges the event. The webhook
// response never waits for reconciliation: remote systems expect a fast ack
// and will retry on timeouts, which would duplicate work.
func (h *WebhookHandler) accept(c *gin.Context, notification *webhookDomain.ChangeNotification) {
	traceID := requestid.Get(c)

	event := bus.Event{
		ID:         uuid.Must(uuid.NewV7()),
		Topic:      bus.FlowTopic(string(notification.EntityKind), notification.Verb),
		TraceID:    traceID,
		OccurredAt: time.Now().UTC(),
		Payload:    notification,
	}
	if err := h.bus.Publish(c.Request.Context(), event); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.logger.Info("webhook accepted",
		slog.String("trace_id", traceID),
		slog.String("origin", string(notification.Origin)),
		slog.String("entity_kind", string(notification.EntityKind)),
		slog.String("entity_id", notification.EntityID),
		slog.String("verb", notification.Verb),
	)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "trace_id": traceID})
}
