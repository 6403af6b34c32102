package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	defaultPlanName     = "Pro Plan"
	defaultPlanInterval = "month"
)

type subscriptionPlan struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Interval string `json:"interval"`
}

type subscriptionResponse struct {
	ID               string           `json:"id"`
	Status           string           `json:"status"`
	CurrentPeriodEnd int64            `json:"current_period_end"`
	Plan             subscriptionPlan `json:"plan"`
}

type checkoutRequest struct {
	PriceID   string `json:"priceId" validate:"required"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail" validate:"omitempty,email"`
	PromoCode string `json:"promoCode" validate:"omitempty,max=64"`
}

// GetStripeSubscription returns the caller's latest Stripe subscription or
// null. Failures are logged, never surfaced.
func (s *Server) GetStripeSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	userID := subjectFrom(c)
	if userID == "" {
		userID = strings.TrimSpace(c.Query("userId"))
	}
	if userID == "" {
		c.JSON(http.StatusOK, nil)
		return
	}

	cust, err := s.stripe.FindCustomerByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, billing.ErrCustomerNotFound) {
			log.Warn("stripe customer lookup failed", zap.Error(err))
		}
		c.JSON(http.StatusOK, nil)
		return
	}

	sub, err := s.stripe.LatestSubscription(ctx, cust.ID)
	if err != nil {
		log.Warn("stripe subscription lookup failed", zap.String("customer_id", cust.ID), zap.Error(err))
		c.JSON(http.StatusOK, nil)
		return
	}
	if sub == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

// CreateCheckoutSession starts a subscription Checkout for the caller.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	subject := subjectFrom(c)
	if subject == "" {
		s.obsMetrics.RecordCheckoutSession(ctx, "unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.obsMetrics.RecordCheckoutSession(ctx, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	if err := s.validate.Struct(req); err != nil {
		s.obsMetrics.RecordCheckoutSession(ctx, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": checkoutValidationMessage(err)})
		return
	}
	if !slices.Contains(s.cfg.Stripe.PriceIDs(), req.PriceID) {
		s.obsMetrics.RecordCheckoutSession(ctx, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price"})
		return
	}
	if req.UserID != "" && req.UserID != subject {
		log.Warn("checkout userId does not match session, using session subject")
	}

	hasAccess, err := s.resolver.HasActiveAccess(ctx, subject)
	if err != nil {
		s.obsMetrics.RecordCheckoutSession(ctx, "failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Unable to verify subscription"})
		return
	}
	if hasAccess {
		s.obsMetrics.RecordCheckoutSession(ctx, "already_subscribed")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":                 "You already have an active subscription",
			"hasActiveSubscription": true,
		})
		return
	}

	email := strings.TrimSpace(req.UserEmail)
	if email == "" {
		email = emailFrom(c)
	}
	cust, err := s.stripe.GetOrCreateCustomer(ctx, subject, email)
	if err != nil {
		s.checkoutFailed(c, "stripe customer lookup failed", err)
		return
	}

	promotionCodeID, err := s.stripe.ResolvePromotionCode(ctx, req.PromoCode)
	if err != nil {
		log.Warn("promotion code lookup failed, continuing without it", zap.Error(err))
		promotionCodeID = ""
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID:      cust.ID,
		PriceID:         req.PriceID,
		UserID:          subject,
		PromotionCodeID: promotionCodeID,
		SuccessURL:      s.cfg.BaseURL + "/account?success=true",
		CancelURL:       s.cfg.BaseURL + "/account?canceled=true",
	})
	if err != nil {
		s.checkoutFailed(c, "stripe checkout session failed", err)
		return
	}

	log.Info("checkout session created",
		zap.String("customer_id", cust.ID),
		zap.String("price_id", req.PriceID),
		zap.Bool("promotion_code", promotionCodeID != ""),
	)
	s.obsMetrics.RecordCheckoutSession(ctx, "created")
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "url": sess.URL})
}

// CreatePortalSession returns a billing portal URL for the caller's customer.
func (s *Server) CreatePortalSession(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	subject := subjectFrom(c)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	cust, err := s.stripe.FindCustomerByUser(ctx, subject)
	if errors.Is(err, billing.ErrCustomerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No billing account found"})
		return
	}
	if err != nil {
		log.Error("stripe customer lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create portal session"})
		return
	}

	url, err := s.stripe.CreatePortalSession(ctx, cust.ID, s.cfg.BaseURL+"/account")
	if err != nil {
		log.Error("stripe portal session failed", zap.String("customer_id", cust.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) checkoutFailed(c *gin.Context, msg string, err error) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Error(msg, zap.Error(err))
	s.obsMetrics.RecordCheckoutSession(ctx, "failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
}

func checkoutValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	switch verrs[0].Field() {
	case "PriceID":
		return "Price ID is required"
	case "UserEmail":
		return "Invalid email"
	case "PromoCode":
		return "Invalid promotion code"
	default:
		return "Invalid request body"
	}
}

func toSubscriptionResponse(sub *billing.Subscription) subscriptionResponse {
	name := strings.TrimSpace(sub.ProductName)
	if name == "" {
		name = defaultPlanName
	}
	interval := sub.Interval
	if interval == "" {
		interval = defaultPlanInterval
	}
	return subscriptionResponse{
		ID:               sub.ID,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Plan: subscriptionPlan{
			ID:       sub.PriceID,
			Name:     name,
			Amount:   sub.UnitAmount,
			Interval: interval,
		},
	}
}
