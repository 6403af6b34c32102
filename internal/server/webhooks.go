package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/observability/logger"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

var errPayloadTooLarge = errors.New("webhook payload too large")

// HandleRevenueCatWebhook answers with {success, message} in every case.
func (s *Server) HandleRevenueCatWebhook(c *gin.Context) {
	result, err := s.ingestWebhook(c, webhookdomain.ProviderRevenueCat)
	if err != nil {
		status, message := webhookErrorStatus(err)
		c.JSON(status, gin.H{"success": false, "message": message})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleStripeWebhook answers with {received: true} or {error}.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	if _, err := s.ingestWebhook(c, webhookdomain.ProviderStripe); err != nil {
		status, message := webhookErrorStatus(err)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) ingestWebhook(c *gin.Context, provider string) (webhookdomain.Result, error) {
	ctx := c.Request.Context()
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		return webhookdomain.Result{}, webhookdomain.ErrInvalidPayload
	}
	if len(payload) > maxWebhookBody {
		return webhookdomain.Result{}, errPayloadTooLarge
	}

	result, err := s.webhooks.Ingest(ctx, provider, payload, c.Request.Header)
	if err != nil {
		logger.FromContext(ctx).Warn("webhook rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
	return result, err
}

func webhookErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, webhookdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, "webhook not configured"
	case errors.Is(err, webhookdomain.ErrMissingSignature),
		errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large"
	case errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, webhookdomain.ErrMissingUser):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, webhookdomain.ErrProviderNotFound):
		return http.StatusNotFound, "unknown provider"
	case errors.Is(err, webhookdomain.ErrStoreFailure):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, "failed to process webhook"
	}
}
