package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/webhook/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const SignatureHeader = "Stripe-Signature"

// Stripe event types that touch entitlements.
const (
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

type Adapter struct {
	webhookSecret string
	client        billing.Client
}

func NewAdapter(cfg config.Config, client billing.Client) *Adapter {
	return &Adapter{
		webhookSecret: cfg.Stripe.WebhookSecret,
		client:        client,
	}
}

func (a *Adapter) Provider() string {
	return domain.ProviderStripe
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	if strings.TrimSpace(a.webhookSecret) == "" {
		return domain.ErrNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return domain.ErrMissingSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Parse decodes the payload into the stripe-go event and object types; Verify
// has already authenticated the same bytes.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.Event{
		Provider:         domain.ProviderStripe,
		ProviderEventID:  event.ID,
		Type:             string(event.Type),
		EventTimestampMs: event.Created * 1000,
		Environment:      environment(event.Livemode),
		RawPayload:       payload,
	}

	switch string(event.Type) {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var raw stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		sub := billing.FromStripeSubscription(&raw)
		userID, err := a.resolveUser(ctx, sub.Metadata, sub.CustomerID)
		if err != nil {
			return nil, err
		}
		out.UserID = userID
		if string(event.Type) == EventSubscriptionDeleted {
			out.Status = billing.MapStatus("canceled")
			out.ClearPlan = true
			out.ClearPeriodEnd = true
			out.ClearTrial = true
			return out, nil
		}
		applySubscription(out, sub.Status, sub.PriceID, sub.CurrentPeriodEnd, sub.TrialEnd)
		return out, nil

	case EventInvoicePaymentSucceed, EventInvoicePaymentFailed:
		var invoice stripeapi.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		subscriptionID := invoiceSubscriptionID(&invoice)
		if subscriptionID == "" {
			return nil, domain.ErrEventIgnored
		}
		sub, err := a.client.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		customerID := sub.CustomerID
		if customerID == "" && invoice.Customer != nil {
			customerID = invoice.Customer.ID
		}
		userID, err := a.resolveUser(ctx, sub.Metadata, customerID)
		if err != nil {
			return nil, err
		}
		out.UserID = userID
		applySubscription(out, sub.Status, sub.PriceID, sub.CurrentPeriodEnd, 0)
		return out, nil

	default:
		return nil, domain.ErrEventIgnored
	}
}

func invoiceSubscriptionID(invoice *stripeapi.Invoice) string {
	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil ||
		invoice.Parent.SubscriptionDetails.Subscription == nil {
		return ""
	}
	return invoice.Parent.SubscriptionDetails.Subscription.ID
}

// resolveUser prefers the subscription metadata stamped at checkout, then the
// customer metadata.
func (a *Adapter) resolveUser(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID := billing.CognitoSubFromMetadata(metadata); userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", domain.ErrUnmappedCustomer
	}
	cust, err := a.client.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return "", domain.ErrUnmappedCustomer
		}
		return "", err
	}
	if userID := billing.CognitoSubFromMetadata(cust.Metadata); userID != "" {
		return userID, nil
	}
	return "", domain.ErrUnmappedCustomer
}

func applySubscription(out *domain.Event, status, priceID string, periodEnd, trialEnd int64) {
	out.Status = billing.MapStatus(status)
	if priceID != "" {
		out.Plan = &priceID
		out.ProductID = priceID
	}
	if periodEnd > 0 {
		out.CurrentPeriodEnd = &periodEnd
	}
	if trialEnd > 0 {
		out.TrialExpiresAt = &trialEnd
	}
}

func environment(livemode bool) string {
	if livemode {
		return "production"
	}
	return "sandbox"
}
