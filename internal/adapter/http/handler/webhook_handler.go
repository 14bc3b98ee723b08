package handler

import (
	"errors"
	"io"
	"net/http"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"
	"social-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderStripeSignature carries the processor's webhook signature.
const HeaderStripeSignature = "Stripe-Signature"

// WebhookHandler turns verified processor notifications into deposit confirmations.
type WebhookHandler struct {
	verifier  ports.WebhookVerifier
	walletSvc ports.WalletService
	log       zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifier ports.WebhookVerifier, walletSvc ports.WalletService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, walletSvc: walletSvc, log: log}
}

type webhookAck struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// Handle handles POST /api/v1/webhooks/payments.
// Retryable failures and intents not yet linked to a deposit answer non-2xx so the
// processor redelivers.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	event, err := h.verifier.ParseEvent(payload, c.GetHeader(HeaderStripeSignature))
	if err != nil {
		response.Error(c, err)
		return
	}

	log := h.log.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()

	if event.Type != ports.EventIntentSucceeded || event.Intent == nil {
		// Canceled intents are settled by the sweep.
		log.Debug().Msg("webhook event ignored")
		c.JSON(http.StatusOK, webhookAck{EventID: event.ID, Outcome: "ignored"})
		return
	}

	accountID, err := uuid.Parse(event.Intent.Metadata[domain.MetaAccountID])
	if err != nil {
		log.Warn().Str("intent_ref", event.Intent.Ref).Msg("succeeded intent without wallet account metadata")
		c.JSON(http.StatusOK, webhookAck{EventID: event.ID, Outcome: "ignored"})
		return
	}

	tx, err := h.walletSvc.ConfirmDeposit(c.Request.Context(), event.Intent.Ref, accountID)
	if err != nil {
		if apperror.IsRetryable(err) {
			log.Error().Err(err).Str("intent_ref", event.Intent.Ref).Msg("webhook confirmation failed, awaiting redelivery")
			response.Error(c, err)
			return
		}
		if errors.Is(err, apperror.ErrNotFound("deposit")) {
			// The event can beat Deposit linking its intent to the pending row.
			log.Warn().Str("intent_ref", event.Intent.Ref).Msg("no deposit linked to intent yet, awaiting redelivery")
			response.Error(c, err)
			return
		}
		log.Warn().Err(err).Str("intent_ref", event.Intent.Ref).Msg("webhook confirmation rejected")
		c.JSON(http.StatusOK, webhookAck{EventID: event.ID, Outcome: "rejected"})
		return
	}

	log.Info().
		Str("intent_ref", event.Intent.Ref).
		Str("tx_id", tx.ID.String()).
		Msg("deposit confirmed by webhook")
	c.JSON(http.StatusOK, webhookAck{EventID: event.ID, Outcome: "confirmed"})
}
